// Package docs holds the OpenAPI description served under /swagger.
// Regenerate with: swag init -g cmd/tixflow/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/health": {
            "get": {
                "tags": ["health"],
                "summary": "Service health",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.HealthResponse"}}}
            }
        },
        "/api/payment/create": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["payment"],
                "summary": "Reserve a ticket and open a payment (idempotent)",
                "parameters": [
                    {"type": "string", "description": "replays the first response", "name": "Idempotency-Key", "in": "header"},
                    {"description": "payload", "name": "req", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpgin.CreatePaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.CreatePaymentResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "409": {"description": "sold out / idempotency key in progress", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "429": {"description": "rate limited", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/api/payment/confirm": {
            "post": {
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["text/plain"],
                "tags": ["payment"],
                "summary": "Gateway payment confirmation webhook",
                "parameters": [
                    {"type": "string", "description": "payment token", "name": "token", "in": "formData", "required": true},
                    {"type": "string", "description": "signature", "name": "s", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "CONFIRMADO", "schema": {"type": "string"}},
                    "400": {"description": "INVALID SIGNATURE", "schema": {"type": "string"}}
                }
            }
        },
        "/api/payment/result": {
            "get": {
                "tags": ["payment"],
                "summary": "Payer return URL",
                "parameters": [{"type": "string", "description": "payment token", "name": "token", "in": "query", "required": true}],
                "responses": {"302": {"description": "Found"}, "400": {"description": "Token missing", "schema": {"type": "string"}}}
            }
        },
        "/api/payment/status/{orderId}": {
            "get": {
                "tags": ["payment"],
                "summary": "Payment record of an order, refreshed from the gateway",
                "parameters": [{"type": "string", "description": "commerce order id", "name": "orderId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.PaymentRecord"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/api/payment/verify/{token}": {
            "get": {
                "tags": ["payment"],
                "summary": "Verify a payment token with the gateway",
                "parameters": [{"type": "string", "description": "payment token", "name": "token", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.VerifyResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/api/tickets/stats": {
            "get": {
                "tags": ["tickets"],
                "summary": "Ledger counters",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.LedgerStats"}}}
            }
        },
        "/api/tickets/order/{orderId}": {
            "get": {
                "tags": ["tickets"],
                "summary": "Ticket of an order",
                "parameters": [{"type": "string", "description": "commerce order id", "name": "orderId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Ticket"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/api/tickets/email/{email}": {
            "get": {
                "tags": ["tickets"],
                "summary": "Tickets bought with an e-mail address",
                "parameters": [{"type": "string", "description": "buyer e-mail", "name": "email", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.Ticket"}}}}
            }
        },
        "/admin/reconcile": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Run one reconciliation pass",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/checkout.ReconcileReport"}},
                    "409": {"description": "already running", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/admin/orders/{orderId}/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Cancel a pending order",
                "parameters": [{"type": "string", "description": "commerce order id", "name": "orderId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.CancelOrderResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/admin/orders/{orderId}/notify": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Send the ticket e-mail again",
                "parameters": [{"type": "string", "description": "commerce order id", "name": "orderId", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "409": {"description": "ticket not confirmed", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "checkout.ReconcileReport": {
            "type": "object",
            "properties": {
                "checked": {"type": "integer"},
                "confirmed": {"type": "integer"},
                "cancelled": {"type": "integer"},
                "abandoned": {"type": "integer"},
                "stillPending": {"type": "integer"},
                "failed": {"type": "integer"}
            }
        },
        "domain.Buyer": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "fullName": {"type": "string"},
                "nationalId": {"type": "string"},
                "phone": {"type": "string"}
            }
        },
        "domain.LedgerStats": {
            "type": "object",
            "properties": {
                "totalTickets": {"type": "integer"},
                "confirmed": {"type": "integer"},
                "pending": {"type": "integer"},
                "cancelled": {"type": "integer"},
                "available": {"type": "integer"},
                "maxTickets": {"type": "integer"},
                "nextTicketNumber": {"type": "integer"}
            }
        },
        "domain.PaymentRecord": {
            "type": "object",
            "properties": {
                "commerceOrder": {"type": "string"},
                "amount": {"type": "number"},
                "subject": {"type": "string"},
                "productId": {"type": "string"},
                "buyer": {"$ref": "#/definitions/domain.Buyer"},
                "ticketNumber": {"type": "integer"},
                "token": {"type": "string"},
                "flowOrder": {"type": "integer"},
                "status": {"type": "string", "enum": ["pending", "approved", "rejected"]},
                "flowStatus": {"type": "object"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "domain.Ticket": {
            "type": "object",
            "properties": {
                "number": {"type": "integer"},
                "orderId": {"type": "string"},
                "buyer": {"$ref": "#/definitions/domain.Buyer"},
                "status": {"type": "string", "enum": ["pending", "confirmed", "cancelled"]},
                "purchasedAt": {"type": "string"},
                "externalRef": {"type": "string"}
            }
        },
        "httpgin.CancelOrderResponse": {
            "type": "object",
            "properties": {
                "ticket": {"$ref": "#/definitions/domain.Ticket"},
                "outcome": {"type": "string"}
            }
        },
        "httpgin.CreatePaymentRequest": {
            "type": "object",
            "required": ["amount", "subject", "email", "payerName"],
            "properties": {
                "amount": {"type": "number"},
                "subject": {"type": "string"},
                "email": {"type": "string"},
                "payerName": {"type": "string"},
                "productId": {"type": "string"},
                "rut": {"type": "string"},
                "phone": {"type": "string"}
            }
        },
        "httpgin.CreatePaymentResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "paymentUrl": {"type": "string"},
                "token": {"type": "string"},
                "flowOrder": {"type": "integer"},
                "commerceOrder": {"type": "string"},
                "ticketNumber": {"type": "integer"}
            }
        },
        "httpgin.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "fields": {"type": "array", "items": {"type": "string"}}
            }
        },
        "httpgin.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "service": {"type": "string"}
            }
        },
        "httpgin.VerifyResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "status": {"type": "string"},
                "paymentStatus": {"type": "object"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:3001",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Tixflow API",
	Description:      "Bounded ticket sale confirmed through signed payment gateway webhooks.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
