package qrtool

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
)

// FunctionURLHandler serves Function URL events through router. Function URLs
// deliver the API Gateway v2 payload, so the v2 gin adapter handles them.
func FunctionURLHandler(router *gin.Engine) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	adapter := ginadapter.NewV2(router)
	return func(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		// The adapter fails the whole invocation on an undecodable body; that is
		// a client error, not ours.
		if event.IsBase64Encoded {
			if _, err := base64.StdEncoding.DecodeString(event.Body); err != nil {
				return events.APIGatewayV2HTTPResponse{
					StatusCode: http.StatusBadRequest,
					Body:       "invalid base64 body",
				}, nil
			}
		}
		return adapter.ProxyWithContext(ctx, event)
	}
}
