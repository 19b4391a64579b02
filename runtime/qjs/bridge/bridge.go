package bridge

import (
	"fmt"
	"math"

	"github.com/buke/quickjs-go"
	jsoniter "github.com/json-iterator/go"
)

// Undefined the undefined value in JavaScript
type Undefined byte

// JsValues cast golang values to JavaScript values
func JsValues(ctx *quickjs.Context, values []interface{}) ([]*quickjs.Value, error) {
	res := []*quickjs.Value{}
	for _, value := range values {
		jsValue, err := JsValue(ctx, value)
		if err != nil {
			FreeJsValues(res)
			return nil, err
		}
		res = append(res, jsValue)
	}
	return res, nil
}

// FreeJsValues release the JavaScript values
func FreeJsValues(values []*quickjs.Value) {
	for _, value := range values {
		if value != nil {
			value.Free()
		}
	}
}

// JsValue cast golang value to JavaScript value
//
// *  ---------------------------------------------------
// *  | Golang                  | JavaScript            |
// *  ---------------------------------------------------
// *  | nil                     | null                  |
// *  | bool                    | boolean               |
// *  | int                     | number(int)           |
// *  | uint                    | number(int)           |
// *  | uint8                   | number(int)           |
// *  | uint16                  | number(int)           |
// *  | uint32                  | number(int)           |
// *  | int8                    | number(int)           |
// *  | int16                   | number(int)           |
// *  | int32                   | number(int)           |
// *  | float32                 | number(float)         |
// *  | float64                 | number(float)         |
// *  | int64                   | bigint                |
// *  | uint64                  | bigint                |
// *  | string                  | string                |
// *  | map[string]interface{}  | object                |
// *  | []interface{}           | array                 |
// *  | []byte                  | object(Uint8Array)    |
// *  | struct                  | object                |
// *  ---------------------------------------------------
func JsValue(ctx *quickjs.Context, value interface{}) (*quickjs.Value, error) {

	switch v := value.(type) {

	case nil:
		return ctx.NewNull(), nil

	case Undefined:
		return ctx.NewUndefined(), nil

	case bool:
		return ctx.NewBool(v), nil

	case string:
		return ctx.NewString(v), nil

	case int:
		return ctx.NewInt64(int64(v)), nil

	case int8:
		return ctx.NewInt32(int32(v)), nil

	case int16:
		return ctx.NewInt32(int32(v)), nil

	case int32:
		return ctx.NewInt32(v), nil

	case uint:
		return ctx.NewInt64(int64(v)), nil

	case uint8:
		return ctx.NewInt32(int32(v)), nil

	case uint16:
		return ctx.NewInt32(int32(v)), nil

	case uint32:
		return ctx.NewUint32(v), nil

	case int64:
		return ctx.NewBigInt64(v), nil

	case uint64:
		return ctx.NewBigUint64(v), nil

	case float32:
		return ctx.NewFloat64(float64(v)), nil

	case float64:
		return ctx.NewFloat64(v), nil

	case []byte:
		return ctx.NewUint8Array(v), nil

	default:
		return jsValueParse(ctx, v)
	}
}

// jsValueParse maps, slices and structs go through a JSON round-trip
func jsValueParse(ctx *quickjs.Context, value interface{}) (*quickjs.Value, error) {

	data, err := jsoniter.Marshal(value)
	if err != nil {
		return nil, err
	}

	jsValue := ctx.ParseJSON(string(data))
	if jsValue.IsException() {
		defer jsValue.Free()
		return nil, fmt.Errorf("parse json value: %s", ctx.Exception().Error())
	}
	return jsValue, nil
}

// GoValues cast JavaScript values to golang values
func GoValues(values []*quickjs.Value) ([]interface{}, error) {
	res := []interface{}{}
	for _, value := range values {
		goValue, err := GoValue(value)
		if err != nil {
			return nil, err
		}
		res = append(res, goValue)
	}
	return res, nil
}

// GoValue cast JavaScript value to golang value
//
// *  ---------------------------------------------------
// *  | JavaScript            | Golang                  |
// *  ---------------------------------------------------
// *  | null                  | nil                     |
// *  | undefined             | bridge.Undefined        |
// *  | boolean               | bool                    |
// *  | number(int)           | int                     |
// *  | number(float)         | float64                 |
// *  | bigint                | int64                   |
// *  | string                | string                  |
// *  | object(Uint8Array)    | []byte                  |
// *  | object                | map[string]interface{}  |
// *  | array                 | []interface{}           |
// *  ---------------------------------------------------
func GoValue(value *quickjs.Value) (interface{}, error) {

	if value == nil || value.IsNull() {
		return nil, nil
	}

	if value.IsUndefined() || value.IsUninitialized() {
		return Undefined(0x00), nil
	}

	if value.IsString() {
		return value.ToString(), nil
	}

	if value.IsBool() {
		return value.ToBool(), nil
	}

	if value.IsNumber() {
		number := value.ToFloat64()
		if number == math.Trunc(number) && number >= math.MinInt64 && number <= math.MaxInt64 {
			return int(number), nil
		}
		return number, nil
	}

	if value.IsBigInt() {
		return value.ToBigInt().Int64(), nil
	}

	if value.IsUint8Array() {
		return value.ToUint8Array()
	}

	if value.IsArray() {
		var goValue []interface{}
		return goValueParse(value, goValue)
	}

	if value.IsFunction() {
		return nil, fmt.Errorf("function values cannot cross the bridge")
	}

	if value.IsObject() {
		var goValue map[string]interface{}
		return goValueParse(value, goValue)
	}

	var goValue interface{}
	return goValueParse(value, goValue)
}

func goValueParse(value *quickjs.Value, v interface{}) (interface{}, error) {

	data := value.JSONStringify()
	ptr := &v
	err := jsoniter.Unmarshal([]byte(data), ptr)
	if err != nil {
		return nil, err
	}
	return *ptr, nil
}
