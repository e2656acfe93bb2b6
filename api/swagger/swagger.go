package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Perpus ADP API",
        "description": "School library service: catalog, student records and the loan ledger",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Auth", "description": "Login, token refresh and session management"},
        {"name": "Books", "description": "Catalog management and downloads"},
        {"name": "Students", "description": "Student records and loan assignment"},
        {"name": "Loans", "description": "Loan ledger and exports"},
        {"name": "Portal", "description": "Student self-service"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email and password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate a refresh token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid or revoked token"}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "security": [{"BearerAuth": []}],
                "summary": "Revoke the current session",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/auth/change-password": {
            "post": {
                "tags": ["Auth"],
                "security": [{"BearerAuth": []}],
                "summary": "Change password and revoke existing sessions",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Wrong old password"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "security": [{"BearerAuth": []}],
                "summary": "Describe the authenticated account",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/books": {
            "get": {
                "tags": ["Books"],
                "security": [{"BearerAuth": []}],
                "summary": "List catalog entries",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "available", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Books"],
                "security": [{"BearerAuth": []}],
                "summary": "Create a catalog entry",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "name", "in": "formData", "type": "string", "required": true},
                    {"name": "author", "in": "formData", "type": "string", "required": true},
                    {"name": "year", "in": "formData", "type": "integer", "required": true},
                    {"name": "category", "in": "formData", "type": "string", "required": true},
                    {"name": "type", "in": "formData", "type": "string", "required": true},
                    {"name": "file", "in": "formData", "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Validation failed"}
                }
            }
        },
        "/books/{id}": {
            "get": {
                "tags": ["Books"],
                "security": [{"BearerAuth": []}],
                "summary": "Fetch a catalog entry",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Books"],
                "security": [{"BearerAuth": []}],
                "summary": "Update a catalog entry",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Books"],
                "security": [{"BearerAuth": []}],
                "summary": "Delete a catalog entry",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Active loans block deletion"}
                }
            }
        },
        "/books/{id}/availability": {
            "patch": {
                "tags": ["Books"],
                "security": [{"BearerAuth": []}],
                "summary": "Override availability",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AvailabilityRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/books/{id}/download": {
            "get": {
                "tags": ["Books"],
                "security": [{"BearerAuth": []}],
                "summary": "Issue a signed download URL",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Book has no file"}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "security": [{"BearerAuth": []}],
                "summary": "List student records",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Students"],
                "security": [{"BearerAuth": []}],
                "summary": "Register a student with a linked account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Duplicate code or email"}
                }
            }
        },
        "/students/{id}/loans": {
            "post": {
                "tags": ["Students"],
                "security": [{"BearerAuth": []}],
                "summary": "Assign a book loan to a student",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignLoanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Book unavailable"}
                }
            }
        },
        "/students/{id}/loans/{loanId}/return": {
            "post": {
                "tags": ["Students"],
                "security": [{"BearerAuth": []}],
                "summary": "Close a student's loan",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Already returned"}
                }
            }
        },
        "/loans": {
            "get": {
                "tags": ["Loans"],
                "security": [{"BearerAuth": []}],
                "summary": "List the loan ledger",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "bookId", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/loans/export": {
            "get": {
                "tags": ["Loans"],
                "security": [{"BearerAuth": []}],
                "summary": "Export the ledger as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Document"},
                    "403": {"description": "Exports disabled"}
                }
            }
        },
        "/portal/dashboard": {
            "get": {
                "tags": ["Portal"],
                "security": [{"BearerAuth": []}],
                "summary": "Student dashboard with loan stats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/portal/loans": {
            "post": {
                "tags": ["Portal"],
                "security": [{"BearerAuth": []}],
                "summary": "Borrow a book as the authenticated student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BorrowRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Book unavailable"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "CreateStudentRequest": {
            "type": "object",
            "required": ["code", "full_name", "email", "password"],
            "properties": {
                "code": {"type": "string"},
                "full_name": {"type": "string"},
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "AssignLoanRequest": {
            "type": "object",
            "required": ["book_id", "due_at"],
            "properties": {
                "book_id": {"type": "string"},
                "due_at": {"type": "string", "format": "date-time"}
            }
        },
        "BorrowRequest": {
            "type": "object",
            "required": ["book_id"],
            "properties": {
                "book_id": {"type": "string"}
            }
        },
        "AvailabilityRequest": {
            "type": "object",
            "required": ["available"],
            "properties": {
                "available": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
