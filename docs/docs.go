// Package docs registers the OpenAPI document served under /swagger.
// Regenerate with: swag init -g cmd/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/loans": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Admin only. Served from the Redis cache when available.",
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "List all loans",
                "responses": {
                    "200": {"description": "All loans, newest first", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.LoanResponse"}}},
                    "401": {"description": "Missing or invalid bearer token", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "403": {"description": "Caller is not an admin", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Submits a loan application for the authenticated customer. The application is checked for documents, an existing pending application and the debt-to-income ceiling, then scored and decided synchronously.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "Apply for a loan",
                "parameters": [
                    {"description": "Loan application", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.ApplyLoanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Application decided (APPROVED or REJECTED)", "schema": {"$ref": "#/definitions/dto.LoanResponse"}},
                    "400": {"description": "Invalid request payload", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "401": {"description": "Missing or invalid bearer token", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "403": {"description": "Caller is not a customer", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "404": {"description": "Customer profile not found", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "409": {"description": "Concurrent application detected", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "422": {"description": "Business rule violation", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "503": {"description": "Credit score service unavailable; loan left PENDING", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/api/loans/my-loans": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "List the caller's loans",
                "responses": {
                    "200": {"description": "Loans of the authenticated customer, newest first", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.LoanResponse"}}},
                    "401": {"description": "Missing or invalid bearer token", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "404": {"description": "Customer profile not found", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/api/loans/{loanID}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Admins may read any loan; customers only their own.",
                "produces": ["application/json"],
                "tags": ["Loans"],
                "summary": "Retrieve loan details",
                "parameters": [
                    {"type": "string", "description": "Loan ID (UUID)", "name": "loanID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Loan details", "schema": {"$ref": "#/definitions/dto.LoanResponse"}},
                    "400": {"description": "Invalid loan ID", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "401": {"description": "Missing or invalid bearer token", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "404": {"description": "Loan not found", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "422": {"description": "Loan belongs to another customer", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Liveness and dependency health",
                "responses": {
                    "200": {"description": "All dependencies reachable", "schema": {"$ref": "#/definitions/dto.HealthResponse"}},
                    "503": {"description": "At least one dependency is unreachable", "schema": {"$ref": "#/definitions/dto.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "dto.ApplyLoanRequest": {
            "type": "object",
            "required": ["amount", "tenorMonths"],
            "properties": {
                "amount": {"type": "string", "example": "15000000.00"},
                "tenorMonths": {"type": "integer", "example": 12}
            }
        },
        "dto.LoanResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "customerId": {"type": "string"},
                "amount": {"type": "string"},
                "tenorMonths": {"type": "integer"},
                "interestRate": {"type": "string"},
                "status": {"type": "string", "enum": ["PENDING", "APPROVED", "REJECTED"]},
                "creditScore": {"type": "integer"},
                "rejectionReason": {"type": "string"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "dto.ErrorDetail": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "field": {"type": "string"},
                "loanId": {"type": "string"}
            }
        },
        "dto.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"$ref": "#/definitions/dto.ErrorDetail"}
            }
        },
        "dto.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "checks": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Loan Underwriting API",
	Description:      "Accepts loan applications, scores them against an external credit bureau and decides them synchronously.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
