// Package docs registers the OpenAPI description of the job API with swag
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
        "/jobs": {
            "get": {
                "description": "Get the metadata of every registered job",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.JobMetadata"}}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "description": "Retrieve the state and configuration of a job",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.JobResponse"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            },
            "put": {
                "description": "Register a job configuration. The job starts CLOSED.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Register a job",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"description": "Job configuration", "name": "job", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.JobConfig"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.JobResponse"}},
                    "400": {"description": "Invalid configuration", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Job already exists", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            },
            "delete": {
                "description": "Delete a job with its configuration and counts, closing it first",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Delete job",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "description": "Kill a running process instead of draining it", "name": "force", "in": "query"},
                    {"type": "string", "description": "How long to wait for the close, e.g. 30m", "name": "timeout", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.AckResponse"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Close timed out", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/counts": {
            "get": {
                "description": "Retrieve the running totals of the input a job has received",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get data counts",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.DataCounts"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/_open": {
            "post": {
                "description": "Start the analysis process of a closed job on this node",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Open job",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.JobResponse"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Job is not closed or is being deleted", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "503": {"description": "Process could not be started", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/_data": {
            "post": {
                "description": "Stream raw records to an open job. The body may be gzip or zstd encoded.",
                "consumes": ["text/plain"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Upload data",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Start of the buckets to reset (epoch seconds or RFC 3339)", "name": "reset_start", "in": "query"},
                    {"type": "string", "description": "End of the buckets to reset", "name": "reset_end", "in": "query"},
                    {"type": "string", "description": "gzip or zstd", "name": "Content-Encoding", "in": "header"}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/model.DataCounts"}},
                    "400": {"description": "Invalid input; counts of what was sent are included", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Job not open or busy", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/_flush": {
            "post": {
                "description": "Flush an open job, optionally calculating interim results or advancing time first",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Flush job",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "description": "Calculate interim results", "name": "calc_interim", "in": "query"},
                    {"type": "string", "description": "Start of the interim range", "name": "start", "in": "query"},
                    {"type": "string", "description": "End of the interim range", "name": "end", "in": "query"},
                    {"type": "string", "description": "Advance the process's time to this point", "name": "advance_time", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.AckResponse"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Job not open or busy", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "503": {"description": "Flush not acknowledged", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/_close": {
            "post": {
                "description": "Gracefully close an open job, or stop it at once with force",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Close job",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "How long to wait for the close, e.g. 30m", "name": "timeout", "in": "query"},
                    {"type": "boolean", "description": "Kill the process instead of draining it", "name": "force", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.AckResponse"}},
                    "404": {"description": "Job not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "Job is not open, or the close timed out", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.AckResponse": {
            "type": "object",
            "properties": {"acknowledged": {"type": "boolean"}}
        },
        "handler.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "class": {"type": "string"},
                "counts": {"$ref": "#/definitions/model.DataCounts"}
            }
        },
        "handler.JobResponse": {
            "type": "object",
            "properties": {
                "job": {"$ref": "#/definitions/model.JobMetadata"},
                "config": {"$ref": "#/definitions/model.JobConfig"}
            }
        },
        "model.JobMetadata": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "state": {"type": "string", "enum": ["closed", "opening", "opened", "closing", "failed"]},
                "deleting": {"type": "boolean"},
                "task": {"type": "object"},
                "failure_reason": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "model.JobConfig": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "description": {"type": "string"},
                "analysis": {"type": "object"},
                "dataDescription": {"type": "object"},
                "transforms": {"type": "array", "items": {"type": "object"}}
            }
        },
        "model.DataCounts": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "processed_record_count": {"type": "integer"},
                "processed_field_count": {"type": "integer"},
                "input_bytes": {"type": "integer"},
                "input_record_count": {"type": "integer"},
                "input_field_count": {"type": "integer"},
                "invalid_date_count": {"type": "integer"},
                "missing_field_count": {"type": "integer"},
                "out_of_order_timestamp_count": {"type": "integer"},
                "excluded_record_count": {"type": "integer"},
                "corrupt_record_count": {"type": "integer"},
                "earliest_record_timestamp": {"type": "string"},
                "latest_record_timestamp": {"type": "string"},
                "last_data_time": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Anomaly Pipeline API",
	Description:      "Job lifecycle and data ingestion for anomaly detection processes.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
