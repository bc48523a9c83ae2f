// Package googlecharts builds data tables in the JSON form
// understood by the Google Charts visualization library.
package googlecharts

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	errgo "gopkg.in/errgo.v1"
)

// DataTable holds the contents of a data table. When marshaled as JSON,
// it is suitable for passing to google.visualization.DataTable.
type DataTable struct {
	Cols []Column `json:"cols"`
	Rows []Row    `json:"rows"`
}

type Column struct {
	Type    DataType `json:"type"`
	Id      string   `json:"id"`
	Label   string   `json:"label,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

type Row struct {
	Cells      []Cell                 `json:"c"`
	Properties map[string]interface{} `json:"p,omitempty"`
}

type Cell struct {
	Value      interface{}            `json:"v,omitempty"`
	Format     string                 `json:"f,omitempty"`
	Properties map[string]interface{} `json:"p,omitempty"`
}

type DataType string

const (
	TBool      DataType = "boolean"
	TNumber    DataType = "number"
	TString    DataType = "string"
	TDate      DataType = "date"
	TDatetime  DataType = "datetime"
	TTimeofday DataType = "timeofday"
)

// NewDataTable returns a new data table holding the values in x,
// which must be a slice of a struct type or pointer to struct type.
// A nil pointer element produces a row of empty cells.
//
// Each exported field of the struct type provides a column.
// Numeric fields produce "number" columns, boolean fields "boolean",
// string fields "string" and time.Time fields "datetime".
// A time.Duration field produces a "timeofday" column.
//
// The column can be customized with a "googlecharts" struct tag
// holding the column label, optionally followed by comma-separated
// options:
//
//	id=name       the id of the column (the field name by default)
//	type=t        the column type; a time.Time may be "date" or "datetime"
//	pattern=p     the column's format pattern
//	format=f      a fmt format used to set the formatted value of each cell
//
// A tag of "-" omits the field.
func NewDataTable(x interface{}) *DataTable {
	xv := reflect.ValueOf(x)
	info, err := getTypeInfo(xv.Type())
	if err != nil {
		panic(err)
	}
	ncols := len(info.cols)
	dt := DataTable{
		Cols: append([]Column(nil), info.cols...),
		Rows: make([]Row, xv.Len()),
	}
	cells := make([]Cell, len(dt.Rows)*ncols)
	for i := range dt.Rows {
		rcells := cells[0:ncols:ncols]
		cells = cells[ncols:]
		dt.Rows[i].Cells = rcells
		elemv := xv.Index(i)
		if info.indir {
			if elemv.IsNil() {
				continue
			}
			elemv = elemv.Elem()
		}
		for col := range rcells {
			f := &info.fields[col]
			f.set(&rcells[col], elemv.FieldByIndex(f.index))
		}
	}
	return &dt
}

type typeInfo struct {
	indir  bool
	cols   []Column
	fields []fieldInfo
}

var (
	typeMutex sync.RWMutex
	typeMap   = make(map[reflect.Type]*typeInfo)
)

func getTypeInfo(t reflect.Type) (*typeInfo, error) {
	typeMutex.RLock()
	info := typeMap[t]
	typeMutex.RUnlock()
	if info != nil {
		return info, nil
	}
	typeMutex.Lock()
	defer typeMutex.Unlock()
	if info = typeMap[t]; info != nil {
		return info, nil
	}
	info, err := parseTypeInfo(t)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	typeMap[t] = info
	return info, nil
}

func parseTypeInfo(xt reflect.Type) (*typeInfo, error) {
	if xt.Kind() != reflect.Slice {
		return nil, errgo.Newf("argument to NewDataTable needs slice, got %v", xt)
	}
	t := xt.Elem()
	var info typeInfo
	if t.Kind() == reflect.Ptr {
		info.indir = true
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errgo.Newf("argument to NewDataTable needs []struct or []*struct, got %v", xt)
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" || f.Tag.Get("googlecharts") == "-" {
			continue
		}
		fi, col, err := getFieldInfo(f)
		if err != nil {
			return nil, errgo.Mask(err)
		}
		info.fields = append(info.fields, fi)
		info.cols = append(info.cols, col)
	}
	return &info, nil
}

var kindToDataType = map[reflect.Kind]DataType{
	reflect.Bool:    TBool,
	reflect.Int:     TNumber,
	reflect.Int8:    TNumber,
	reflect.Int16:   TNumber,
	reflect.Int32:   TNumber,
	reflect.Int64:   TNumber,
	reflect.Uint:    TNumber,
	reflect.Uint8:   TNumber,
	reflect.Uint16:  TNumber,
	reflect.Uint32:  TNumber,
	reflect.Uint64:  TNumber,
	reflect.Float32: TNumber,
	reflect.Float64: TNumber,
	reflect.String:  TString,
}

type fieldInfo struct {
	index []int
	set   func(cell *Cell, v reflect.Value)
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

func getFieldInfo(f reflect.StructField) (fieldInfo, Column, error) {
	col := Column{
		Id: f.Name,
	}
	var ok bool
	switch f.Type {
	case timeType:
		col.Type = TDatetime
	case durationType:
		col.Type = TTimeofday
	default:
		col.Type, ok = kindToDataType[f.Type.Kind()]
		if !ok {
			return fieldInfo{}, Column{}, errgo.Newf("type %s not allowed for field %v", f.Type, f.Name)
		}
	}
	var format string
	if tag := f.Tag.Get("googlecharts"); tag != "" {
		opts := strings.Split(tag, ",")
		col.Label = opts[0]
		for _, opt := range opts[1:] {
			key, val, ok := strings.Cut(opt, "=")
			if !ok {
				return fieldInfo{}, Column{}, errgo.Newf("invalid option %q for field %v", opt, f.Name)
			}
			switch key {
			case "id":
				col.Id = val
			case "type":
				col.Type = DataType(val)
			case "pattern":
				col.Pattern = val
			case "format":
				format = val
			default:
				return fieldInfo{}, Column{}, errgo.Newf("unknown option %q for field %v", key, f.Name)
			}
		}
	}
	set, err := setter(f.Type, col.Type)
	if err != nil {
		return fieldInfo{}, Column{}, errgo.Notef(err, "field %v", f.Name)
	}
	if format != "" {
		set0 := set
		set = func(cell *Cell, v reflect.Value) {
			set0(cell, v)
			cell.Format = fmt.Sprintf(format, v.Interface())
		}
	}
	return fieldInfo{
		index: f.Index,
		set:   set,
	}, col, nil
}

// setter returns a function that sets a cell of the given column type
// from a value of type t.
func setter(t reflect.Type, dtype DataType) (func(cell *Cell, v reflect.Value), error) {
	switch t {
	case timeType:
		switch dtype {
		case TDatetime, TDate:
		default:
			return nil, errgo.Newf("time.Time cannot be used as %q", dtype)
		}
		return func(cell *Cell, v reflect.Value) {
			t := v.Interface().(time.Time)
			if t.IsZero() {
				return
			}
			cell.Value = fmt.Sprintf("Date(%d)", t.UnixNano()/1e6)
		}, nil
	case durationType:
		return func(cell *Cell, v reflect.Value) {
			d := time.Duration(v.Int())
			ms := d / time.Millisecond
			cell.Value = []int64{
				int64(d / time.Hour),
				int64(d/time.Minute) % 60,
				int64(d/time.Second) % 60,
				int64(ms % 1000),
			}
		}, nil
	}
	if dtype != kindToDataType[t.Kind()] {
		return nil, errgo.Newf("%s cannot be used as %q", t, dtype)
	}
	return func(cell *Cell, v reflect.Value) {
		cell.Value = v.Interface()
	}, nil
}
