package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/Conte777/tg-session-migrator/pkg/errors"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WriteResponse writes a successful JSON response
func WriteResponse(ctx *fasthttp.RequestCtx, data interface{}) {
	writeJSON(ctx, Response{Success: true, Data: data}, fasthttp.StatusOK)
}

// WriteErrorResponse writes an error JSON response
func WriteErrorResponse(ctx *fasthttp.RequestCtx, message string, status int) {
	writeJSON(ctx, Response{Success: false, Error: message}, status)
}

// WriteMappedError writes err with the status the mapper assigns to it
func WriteMappedError(ctx *fasthttp.RequestCtx, mapper *errors.Mapper, err error) {
	status, message := mapper.MapErrorToHTTP(err)
	WriteErrorResponse(ctx, message, status)
}

// WriteHealthResponse writes a health check response
func WriteHealthResponse(ctx *fasthttp.RequestCtx, data interface{}, healthy bool) {
	status := fasthttp.StatusOK
	if !healthy {
		status = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, data, status)
}

// writeJSON writes JSON response to context
func writeJSON(ctx *fasthttp.RequestCtx, data interface{}, status int) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)

	body, err := json.Marshal(data)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBody([]byte(`{"success":false,"error":"failed to marshal response"}`))
		return
	}

	ctx.SetBody(body)
}
