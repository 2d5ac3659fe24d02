package coltype

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
)

type jsonKind int

const (
	kindInvalid jsonKind = iota
	kindNull
	kindBool
	kindNumber
	kindString
	kindArray
	kindObject
)

func (k jsonKind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindBool:
		return "boolean"
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	case kindArray:
		return "array"
	case kindObject:
		return "object"
	default:
		return "invalid JSON"
	}
}

func kindOf(raw []byte) jsonKind {
	if len(raw) == 0 || !json.Valid(raw) {
		return kindInvalid
	}
	switch c := raw[0]; {
	case c == 'n':
		return kindNull
	case c == 't' || c == 'f':
		return kindBool
	case c == '"':
		return kindString
	case c == '[':
		return kindArray
	case c == '{':
		return kindObject
	case c == '-' || (c >= '0' && c <= '9'):
		return kindNumber
	}
	return kindInvalid
}

func mismatch(t ColumnType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", apperrors.ErrTypeMismatch, t, fmt.Sprintf(format, args...))
}

func expect(t ColumnType, got jsonKind, want ...jsonKind) error {
	for _, k := range want {
		if got == k {
			return nil
		}
	}
	return mismatch(t, "expected JSON %s, got %s", want[0], got)
}

// FromJSON converts one JSON value into a Value of column type t.
// JSON null yields Null{Of: t} for every type.
func FromJSON(t ColumnType, raw json.RawMessage) (Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedType, t)
	}

	raw = bytes.TrimSpace(raw)
	kind := kindOf(raw)
	if kind == kindInvalid {
		return nil, mismatch(t, "invalid JSON value")
	}
	if kind == kindNull {
		return Null{Of: t}, nil
	}

	switch t {
	case TypeBigInt:
		n, err := integerFromJSON(t, kind, raw, 64)
		return BigInt(n), err
	case TypeInt:
		n, err := integerFromJSON(t, kind, raw, 32)
		return Int(n), err
	case TypeSmallInt:
		n, err := integerFromJSON(t, kind, raw, 16)
		return SmallInt(n), err
	case TypeOid:
		if err := expect(t, kind, kindNumber); err != nil {
			return nil, err
		}
		n, err := integral(t, string(raw))
		if err != nil {
			return nil, err
		}
		if n.Sign() < 0 || !n.BigInt().IsUint64() || n.BigInt().Uint64() > math.MaxUint32 {
			return nil, mismatch(t, "%s is out of range", raw)
		}
		return Oid(uint32(n.BigInt().Uint64())), nil
	case TypeBool:
		if err := expect(t, kind, kindBool); err != nil {
			return nil, err
		}
		return Bool(raw[0] == 't'), nil
	case TypeReal:
		f, err := floatFromJSON(t, kind, raw, 32)
		return Real(float32(f)), err
	case TypeDouble:
		f, err := floatFromJSON(t, kind, raw, 64)
		return Double(f), err
	case TypeDecimal:
		return decimalFromJSON(t, kind, raw)
	case TypeByteA:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, mismatch(t, "expected base64 data: %v", err)
		}
		return ByteA(b), nil
	case TypeChar, TypeCitext, TypeName, TypeText, TypeVarChar:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		return textValue(t, s), nil
	case TypeDate:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, mismatch(t, "expected YYYY-MM-DD, got %q", s)
		}
		return Date(d), nil
	case TypeTime:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		return parseTime(s)
	case TypeTimestamp:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		ts, err := parseTimestamp(s)
		if err != nil {
			return nil, err
		}
		return Timestamp(ts), nil
	case TypeTimestampTZ:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, mismatch(t, "expected an RFC 3339 timestamp, got %q", s)
		}
		return TimestampTZ(ts), nil
	case TypeUUID:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		// uuid.Parse also accepts urn: and braced forms; only the canonical
		// 36 character form round-trips.
		id, err := uuid.Parse(s)
		if err != nil || len(s) != 36 {
			return nil, mismatch(t, "%q is not a UUID", s)
		}
		return UUID(id), nil
	case TypeMacAddr:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		hw, err := net.ParseMAC(s)
		if err != nil || len(hw) != 6 {
			return nil, mismatch(t, "%q is not a 6 byte MAC address", s)
		}
		return MacAddr(hw), nil
	case TypeJSON:
		return JSON(append(json.RawMessage(nil), raw...)), nil
	case TypeJSONB:
		return JSONB(append(json.RawMessage(nil), raw...)), nil
	case TypeHStore:
		if err := expect(t, kind, kindObject); err != nil {
			return nil, err
		}
		var m map[string]*string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, mismatch(t, "hstore values must be strings or null")
		}
		return HStore(m), nil
	}

	return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedType, t)
}

func textValue(t ColumnType, s string) Value {
	switch t {
	case TypeChar:
		return Char(s)
	case TypeCitext:
		return Citext(s)
	case TypeName:
		return Name(s)
	case TypeVarChar:
		return VarChar(s)
	default:
		return Text(s)
	}
}

func stringFromJSON(t ColumnType, kind jsonKind, raw []byte) (string, error) {
	if err := expect(t, kind, kindString); err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", mismatch(t, "%v", err)
	}
	return s, nil
}

// integral parses a JSON number literal and rejects fractional values.
// 1e3 and 10.0 are accepted because they denote integers exactly.
func integral(t ColumnType, lit string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(lit)
	if err != nil {
		return decimal.Decimal{}, mismatch(t, "%s is not a number", lit)
	}
	// IsInteger and BigInt walk the exponent one power of ten at a time.
	if d.IsZero() {
		return decimal.Zero, nil
	}
	if integerDigits(d) > maxIntegralDigits {
		return decimal.Decimal{}, mismatch(t, "%s is out of range", lit)
	}
	if !d.IsInteger() {
		return decimal.Decimal{}, mismatch(t, "%s has a fractional part", lit)
	}
	return d, nil
}

// maxIntegralDigits bounds the integer digits of any integer column value;
// uint64 needs 20.
const maxIntegralDigits = 20

// Limits of the PostgreSQL numeric type.
const (
	maxNumericIntegerDigits = 131072
	maxNumericScale         = 16383
)

// integerDigits returns the number of digits d has before the decimal point,
// which is zero or negative for values below one. It never rescales d.
func integerDigits(d decimal.Decimal) int64 {
	coefficient := d.Coefficient()
	return int64(len(coefficient.Abs(coefficient).String())) + int64(d.Exponent())
}

func integerFromJSON(t ColumnType, kind jsonKind, raw []byte, bits int) (int64, error) {
	if err := expect(t, kind, kindNumber); err != nil {
		return 0, err
	}
	lit := string(raw)
	n, err := strconv.ParseInt(lit, 10, bits)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, mismatch(t, "%s is out of range", lit)
	}

	d, err := integral(t, lit)
	if err != nil {
		return 0, err
	}
	b := d.BigInt()
	if !b.IsInt64() {
		return 0, mismatch(t, "%s is out of range", lit)
	}
	n = b.Int64()
	limit := int64(1) << (bits - 1)
	if bits < 64 && (n < -limit || n >= limit) {
		return 0, mismatch(t, "%s is out of range", lit)
	}
	return n, nil
}

func floatFromJSON(t ColumnType, kind jsonKind, raw []byte, bits int) (float64, error) {
	if err := expect(t, kind, kindNumber); err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(string(raw), bits)
	if err != nil {
		return 0, mismatch(t, "%s is out of range", raw)
	}
	return f, nil
}

func decimalFromJSON(t ColumnType, kind jsonKind, raw []byte) (Value, error) {
	lit := string(raw)
	switch kind {
	case kindNumber:
	case kindString:
		s, err := stringFromJSON(t, kind, raw)
		if err != nil {
			return nil, err
		}
		lit = strings.TrimSpace(s)
	default:
		return nil, expect(t, kind, kindNumber, kindString)
	}
	d, err := decimal.NewFromString(lit)
	if err != nil {
		return nil, mismatch(t, "%q is not a decimal number", lit)
	}
	if -int64(d.Exponent()) > maxNumericScale || (!d.IsZero() && integerDigits(d) > maxNumericIntegerDigits) {
		return nil, mismatch(t, "%q is out of range", lit)
	}
	return Decimal(d), nil
}

func parseTime(s string) (Value, error) {
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil, mismatch(TypeTime, "expected HH:MM:SS[.ffffff], got %q", s)
	}
	if parsed.Nanosecond()%1000 != 0 {
		return nil, mismatch(TypeTime, "%q has sub-microsecond precision", s)
	}
	midnight := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	return Time(parsed.Sub(midnight).Microseconds()), nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{timestampLayout, "2006-01-02 15:04:05.999999"} {
		ts, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if ts.Nanosecond()%1000 != 0 {
			return time.Time{}, mismatch(TypeTimestamp, "%q has sub-microsecond precision", s)
		}
		return ts, nil
	}
	return time.Time{}, mismatch(TypeTimestamp, "expected YYYY-MM-DDTHH:MM:SS[.ffffff], got %q", s)
}
