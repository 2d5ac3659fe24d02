// Package coltype maps JSON request values and PostgreSQL driver values onto a
// closed set of column-typed values.
package coltype

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
)

// ColumnType is one of the PostgreSQL column types the engine can bind and
// return. The zero value is not a valid type.
type ColumnType int

const (
	TypeBigInt ColumnType = iota + 1
	TypeBool
	TypeByteA
	TypeChar
	TypeCitext
	TypeDate
	TypeDecimal
	TypeDouble
	TypeHStore
	TypeInt
	TypeJSON
	TypeJSONB
	TypeMacAddr
	TypeName
	TypeOid
	TypeReal
	TypeSmallInt
	TypeText
	TypeTime
	TypeTimestamp
	TypeTimestampTZ
	TypeUUID
	TypeVarChar
)

var canonicalNames = map[ColumnType]string{
	TypeBigInt:      "int8",
	TypeBool:        "bool",
	TypeByteA:       "bytea",
	TypeChar:        "bpchar",
	TypeCitext:      "citext",
	TypeDate:        "date",
	TypeDecimal:     "numeric",
	TypeDouble:      "float8",
	TypeHStore:      "hstore",
	TypeInt:         "int4",
	TypeJSON:        "json",
	TypeJSONB:       "jsonb",
	TypeMacAddr:     "macaddr",
	TypeName:        "name",
	TypeOid:         "oid",
	TypeReal:        "float4",
	TypeSmallInt:    "int2",
	TypeText:        "text",
	TypeTime:        "time",
	TypeTimestamp:   "timestamp",
	TypeTimestampTZ: "timestamptz",
	TypeUUID:        "uuid",
	TypeVarChar:     "varchar",
}

// typeAliases accepts both pg_type names (udt_name) and the SQL-standard
// spellings reported by information_schema.columns.data_type.
var typeAliases = map[string]ColumnType{
	"bigint":                      TypeBigInt,
	"int8":                        TypeBigInt,
	"boolean":                     TypeBool,
	"bool":                        TypeBool,
	"bytea":                       TypeByteA,
	"char":                        TypeChar,
	"\"char\"":                    TypeChar,
	"character":                   TypeChar,
	"bpchar":                      TypeChar,
	"citext":                      TypeCitext,
	"date":                        TypeDate,
	"numeric":                     TypeDecimal,
	"decimal":                     TypeDecimal,
	"double precision":            TypeDouble,
	"float8":                      TypeDouble,
	"hstore":                      TypeHStore,
	"integer":                     TypeInt,
	"int":                         TypeInt,
	"int4":                        TypeInt,
	"json":                        TypeJSON,
	"jsonb":                       TypeJSONB,
	"macaddr":                     TypeMacAddr,
	"name":                        TypeName,
	"oid":                         TypeOid,
	"real":                        TypeReal,
	"float4":                      TypeReal,
	"smallint":                    TypeSmallInt,
	"int2":                        TypeSmallInt,
	"text":                        TypeText,
	"time":                        TypeTime,
	"time without time zone":      TypeTime,
	"timestamp":                   TypeTimestamp,
	"timestamp without time zone": TypeTimestamp,
	"timestamptz":                 TypeTimestampTZ,
	"timestamp with time zone":    TypeTimestampTZ,
	"uuid":                        TypeUUID,
	"varchar":                     TypeVarChar,
	"character varying":           TypeVarChar,
}

// All returns every supported column type in declaration order.
func All() []ColumnType {
	types := make([]ColumnType, 0, len(canonicalNames))
	for t := TypeBigInt; t <= TypeVarChar; t++ {
		types = append(types, t)
	}
	return types
}

// String returns the pg_type name of the column type.
func (t ColumnType) String() string {
	if name, ok := canonicalNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// Valid reports whether t is one of the supported types.
func (t ColumnType) Valid() bool {
	_, ok := canonicalNames[t]
	return ok
}

// ParseColumnType resolves a SQL type name to a ColumnType.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseColumnType(sqlType string) (ColumnType, error) {
	name := strings.ToLower(strings.TrimSpace(sqlType))
	if t, ok := typeAliases[name]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedType, sqlType)
}

// builtinOIDs covers the supported types with fixed OIDs. citext and hstore
// are extension types whose OIDs differ per database.
var builtinOIDs = map[uint32]ColumnType{
	16:   TypeBool,
	17:   TypeByteA,
	18:   TypeChar,
	19:   TypeName,
	20:   TypeBigInt,
	21:   TypeSmallInt,
	23:   TypeInt,
	25:   TypeText,
	26:   TypeOid,
	114:  TypeJSON,
	700:  TypeReal,
	701:  TypeDouble,
	829:  TypeMacAddr,
	1042: TypeChar,
	1043: TypeVarChar,
	1082: TypeDate,
	1083: TypeTime,
	1114: TypeTimestamp,
	1184: TypeTimestampTZ,
	1700: TypeDecimal,
	2950: TypeUUID,
	3802: TypeJSONB,
}

// TypeFromOID maps a result column's type OID to a ColumnType.
func TypeFromOID(oid uint32) (ColumnType, bool) {
	t, ok := builtinOIDs[oid]
	return t, ok
}
