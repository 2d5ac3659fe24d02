package coltype

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
)

// FromDriver converts a value decoded by pgx (rows.Values) into a Value of
// column type t. A nil driver value yields Null{Of: t}.
func FromDriver(t ColumnType, v any) (Value, error) {
	if v == nil {
		return Null{Of: t}, nil
	}

	switch t {
	case TypeBigInt, TypeInt, TypeSmallInt:
		n, ok := driverInt(v)
		if !ok {
			break
		}
		switch t {
		case TypeBigInt:
			return BigInt(n), nil
		case TypeInt:
			return Int(int32(n)), nil
		default:
			return SmallInt(int16(n)), nil
		}
	case TypeOid:
		switch x := v.(type) {
		case uint32:
			return Oid(x), nil
		case int64:
			return Oid(uint32(x)), nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return Bool(b), nil
		}
	case TypeReal:
		switch x := v.(type) {
		case float32:
			return Real(x), nil
		case float64:
			return Real(float32(x)), nil
		}
	case TypeDouble:
		switch x := v.(type) {
		case float64:
			return Double(x), nil
		case float32:
			return Double(float64(x)), nil
		}
	case TypeDecimal:
		return driverDecimal(v)
	case TypeByteA:
		if b, ok := v.([]byte); ok {
			return ByteA(b), nil
		}
	case TypeChar, TypeCitext, TypeName, TypeText, TypeVarChar:
		switch x := v.(type) {
		case string:
			return textValue(t, x), nil
		case []byte:
			return textValue(t, string(x)), nil
		}
	case TypeDate:
		switch x := v.(type) {
		case time.Time:
			return Date(x), nil
		case pgtype.Date:
			if x.Valid {
				return Date(x.Time), nil
			}
			return Null{Of: t}, nil
		}
	case TypeTime:
		switch x := v.(type) {
		case pgtype.Time:
			if x.Valid {
				return Time(x.Microseconds), nil
			}
			return Null{Of: t}, nil
		case time.Duration:
			return Time(x.Microseconds()), nil
		case string:
			return parseTime(x)
		}
	case TypeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return Timestamp(x), nil
		case pgtype.Timestamp:
			if x.Valid {
				return Timestamp(x.Time), nil
			}
			return Null{Of: t}, nil
		}
	case TypeTimestampTZ:
		switch x := v.(type) {
		case time.Time:
			return TimestampTZ(x), nil
		case pgtype.Timestamptz:
			if x.Valid {
				return TimestampTZ(x.Time), nil
			}
			return Null{Of: t}, nil
		}
	case TypeUUID:
		switch x := v.(type) {
		case [16]byte:
			return UUID(x), nil
		case uuid.UUID:
			return UUID(x), nil
		case pgtype.UUID:
			if x.Valid {
				return UUID(x.Bytes), nil
			}
			return Null{Of: t}, nil
		case string:
			id, err := uuid.Parse(x)
			if err != nil {
				return nil, mismatch(t, "%q is not a UUID", x)
			}
			return UUID(id), nil
		}
	case TypeMacAddr:
		switch x := v.(type) {
		case net.HardwareAddr:
			return MacAddr(x), nil
		case string:
			hw, err := net.ParseMAC(x)
			if err != nil {
				return nil, mismatch(t, "%q is not a MAC address", x)
			}
			return MacAddr(hw), nil
		}
	case TypeHStore:
		switch x := v.(type) {
		case pgtype.Hstore:
			return HStore(x), nil
		case map[string]*string:
			return HStore(x), nil
		}
	case TypeJSON, TypeJSONB:
		raw, err := driverJSON(v)
		if err != nil {
			return nil, mismatch(t, "%v", err)
		}
		if t == TypeJSON {
			return JSON(raw), nil
		}
		return JSONB(raw), nil
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedType, t)
	}

	return nil, mismatch(t, "unexpected driver value of type %T", v)
}

// InferType guesses the column type of a result column whose OID is not
// built in, from the Go type pgx decoded it to. Extension types such as
// citext arrive as text.
func InferType(v any) (ColumnType, bool) {
	switch v.(type) {
	case string, []byte:
		return TypeText, true
	case pgtype.Hstore, map[string]*string:
		return TypeHStore, true
	case int64:
		return TypeBigInt, true
	case int32:
		return TypeInt, true
	case int16:
		return TypeSmallInt, true
	case bool:
		return TypeBool, true
	case float64:
		return TypeDouble, true
	case float32:
		return TypeReal, true
	case time.Time:
		return TypeTimestampTZ, true
	case [16]byte:
		return TypeUUID, true
	}
	return 0, false
}

func driverInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int:
		return int64(x), true
	}
	return 0, false
}

func driverDecimal(v any) (Value, error) {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return Null{Of: TypeDecimal}, nil
		}
		if x.NaN || x.InfinityModifier != pgtype.Finite {
			return nil, mismatch(TypeDecimal, "non-finite numeric values are not supported")
		}
		coef := x.Int
		if coef == nil {
			coef = new(big.Int)
		}
		return Decimal(decimal.NewFromBigInt(coef, x.Exp)), nil
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return nil, mismatch(TypeDecimal, "%q is not a decimal number", x)
		}
		return Decimal(d), nil
	case float64:
		return Decimal(decimal.NewFromFloat(x)), nil
	}
	return nil, mismatch(TypeDecimal, "unexpected driver value of type %T", v)
}

func driverJSON(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case json.RawMessage:
		return x, nil
	case []byte:
		if json.Valid(x) {
			return json.RawMessage(x), nil
		}
	}
	return json.Marshal(v)
}
