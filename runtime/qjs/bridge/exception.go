package bridge

import (
	"fmt"

	"github.com/buke/quickjs-go"
	"github.com/yaoapp/kun/exception"
)

// JsException throw an exception to the script caller and return the
// pending-exception value. Use as the return value of a host callback.
func JsException(ctx *quickjs.Context, message interface{}) *quickjs.Value {
	switch v := message.(type) {

	case *exception.Exception:
		return ctx.ThrowError(fmt.Errorf("Exception|%d: %s", v.Code, v.Message))

	case error:
		return ctx.ThrowError(v)

	case string:
		return ctx.ThrowInternalError("%s", v)

	default:
		return ctx.ThrowInternalError("%v", v)
	}
}
