package coltype

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Value is a single column value of a known ColumnType.
// The set of implementations is closed; every variant converts back to JSON
// without loss and exposes a bind argument pgx can encode.
type Value interface {
	Type() ColumnType
	// JSON returns a value encoding/json marshals to the canonical JSON form.
	JSON() any
	// Arg returns the value to bind to a positional placeholder.
	Arg() any

	sealed()
}

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04:05.999999"
	timestampLayout = "2006-01-02T15:04:05.999999"
)

type (
	BigInt      int64
	Bool        bool
	ByteA       []byte
	Char        string
	Citext      string
	Date        time.Time
	Decimal     decimal.Decimal
	Double      float64
	HStore      map[string]*string
	Int         int32
	JSON        json.RawMessage
	JSONB       json.RawMessage
	MacAddr     net.HardwareAddr
	Name        string
	Oid         uint32
	Real        float32
	SmallInt    int16
	Text        string
	Time        int64 // microseconds since midnight
	Timestamp   time.Time
	TimestampTZ time.Time
	UUID        uuid.UUID
	VarChar     string
)

// Null is SQL NULL for a column of type Of.
type Null struct {
	Of ColumnType
}

func (BigInt) Type() ColumnType      { return TypeBigInt }
func (Bool) Type() ColumnType        { return TypeBool }
func (ByteA) Type() ColumnType       { return TypeByteA }
func (Char) Type() ColumnType        { return TypeChar }
func (Citext) Type() ColumnType      { return TypeCitext }
func (Date) Type() ColumnType        { return TypeDate }
func (Decimal) Type() ColumnType     { return TypeDecimal }
func (Double) Type() ColumnType      { return TypeDouble }
func (HStore) Type() ColumnType      { return TypeHStore }
func (Int) Type() ColumnType         { return TypeInt }
func (JSON) Type() ColumnType        { return TypeJSON }
func (JSONB) Type() ColumnType       { return TypeJSONB }
func (MacAddr) Type() ColumnType     { return TypeMacAddr }
func (Name) Type() ColumnType        { return TypeName }
func (Oid) Type() ColumnType         { return TypeOid }
func (Real) Type() ColumnType        { return TypeReal }
func (SmallInt) Type() ColumnType    { return TypeSmallInt }
func (Text) Type() ColumnType        { return TypeText }
func (Time) Type() ColumnType        { return TypeTime }
func (Timestamp) Type() ColumnType   { return TypeTimestamp }
func (TimestampTZ) Type() ColumnType { return TypeTimestampTZ }
func (UUID) Type() ColumnType        { return TypeUUID }
func (VarChar) Type() ColumnType     { return TypeVarChar }
func (n Null) Type() ColumnType      { return n.Of }

func (v BigInt) JSON() any { return int64(v) }
func (v Bool) JSON() any   { return bool(v) }
func (v ByteA) JSON() any  { return base64.StdEncoding.EncodeToString(v) }
func (v Char) JSON() any   { return string(v) }
func (v Citext) JSON() any { return string(v) }
func (v Date) JSON() any   { return time.Time(v).Format(dateLayout) }

func (v Decimal) JSON() any {
	return json.Number(decimal.Decimal(v).String())
}

func (v Double) JSON() any { return float64(v) }

func (v HStore) JSON() any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		if val == nil {
			out[k] = nil
			continue
		}
		out[k] = *val
	}
	return out
}

func (v Int) JSON() any     { return int32(v) }
func (v JSON) JSON() any    { return json.RawMessage(v) }
func (v JSONB) JSON() any   { return json.RawMessage(v) }
func (v MacAddr) JSON() any { return net.HardwareAddr(v).String() }
func (v Name) JSON() any    { return string(v) }
func (v Oid) JSON() any     { return uint32(v) }

// Real formats with 32-bit precision so 0.1 stays 0.1 instead of
// 0.10000000149011612.
func (v Real) JSON() any {
	return json.Number(strconv.FormatFloat(float64(v), 'g', -1, 32))
}

func (v SmallInt) JSON() any { return int16(v) }
func (v Text) JSON() any     { return string(v) }

func (v Time) JSON() any {
	midnight := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return midnight.Add(time.Duration(v) * time.Microsecond).Format(timeLayout)
}

func (v Timestamp) JSON() any   { return time.Time(v).Format(timestampLayout) }
func (v TimestampTZ) JSON() any { return time.Time(v).Format(time.RFC3339Nano) }
func (v UUID) JSON() any        { return uuid.UUID(v).String() }
func (v VarChar) JSON() any     { return string(v) }
func (Null) JSON() any          { return nil }

func (v BigInt) Arg() any { return int64(v) }
func (v Bool) Arg() any   { return bool(v) }
func (v ByteA) Arg() any  { return []byte(v) }
func (v Char) Arg() any   { return string(v) }
func (v Citext) Arg() any { return string(v) }

func (v Date) Arg() any {
	return pgtype.Date{Time: time.Time(v), Valid: true}
}

func (v Decimal) Arg() any {
	d := decimal.Decimal(v)
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func (v Double) Arg() any   { return float64(v) }
func (v HStore) Arg() any   { return pgtype.Hstore(v) }
func (v Int) Arg() any      { return int32(v) }
func (v JSON) Arg() any     { return json.RawMessage(v) }
func (v JSONB) Arg() any    { return json.RawMessage(v) }
func (v MacAddr) Arg() any  { return net.HardwareAddr(v) }
func (v Name) Arg() any     { return string(v) }
func (v Oid) Arg() any      { return uint32(v) }
func (v Real) Arg() any     { return float32(v) }
func (v SmallInt) Arg() any { return int16(v) }
func (v Text) Arg() any     { return string(v) }

func (v Time) Arg() any {
	return pgtype.Time{Microseconds: int64(v), Valid: true}
}

func (v Timestamp) Arg() any {
	return pgtype.Timestamp{Time: time.Time(v), Valid: true}
}

func (v TimestampTZ) Arg() any { return time.Time(v) }

func (v UUID) Arg() any {
	return pgtype.UUID{Bytes: v, Valid: true}
}

func (v VarChar) Arg() any { return string(v) }
func (Null) Arg() any      { return nil }

func (BigInt) sealed()      {}
func (Bool) sealed()        {}
func (ByteA) sealed()       {}
func (Char) sealed()        {}
func (Citext) sealed()      {}
func (Date) sealed()        {}
func (Decimal) sealed()     {}
func (Double) sealed()      {}
func (HStore) sealed()      {}
func (Int) sealed()         {}
func (JSON) sealed()        {}
func (JSONB) sealed()       {}
func (MacAddr) sealed()     {}
func (Name) sealed()        {}
func (Oid) sealed()         {}
func (Real) sealed()        {}
func (SmallInt) sealed()    {}
func (Text) sealed()        {}
func (Time) sealed()        {}
func (Timestamp) sealed()   {}
func (TimestampTZ) sealed() {}
func (UUID) sealed()        {}
func (VarChar) sealed()     {}
func (Null) sealed()        {}

// Args returns the bind arguments for values, in order.
func Args(values []Value) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v.Arg()
	}
	return args
}
