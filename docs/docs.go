// Package docs registers the swagger document served on /swagger/*any.
// Regenerate with: swag init -g cmd/feedd/main.go -o docs
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
        "/api/v1/feed": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Feed"],
                "summary": "获取 feed 分页",
                "parameters": [
                    {"type": "integer", "description": "只返回更新的条目（游标，微秒）", "name": "after", "in": "query"},
                    {"type": "integer", "description": "只返回更早的条目（游标，微秒）", "name": "before", "in": "query"},
                    {"type": "integer", "default": 20, "description": "每页数量", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/response.Response"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/users/{user_id}/items": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Feed"],
                "summary": "获取作者时间线分页",
                "parameters": [
                    {"type": "integer", "description": "作者ID", "name": "user_id", "in": "path", "required": true},
                    {"type": "integer", "name": "after", "in": "query"},
                    {"type": "integer", "name": "before", "in": "query"},
                    {"type": "integer", "default": 20, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/items": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["内容"],
                "summary": "发布内容",
                "parameters": [
                    {"description": "内容", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.publishRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/items/{item_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["内容"],
                "summary": "获取内容",
                "parameters": [
                    {"type": "integer", "description": "内容ID", "name": "item_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/items/{item_id}/comments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["内容"],
                "summary": "评论分页",
                "parameters": [
                    {"type": "integer", "name": "item_id", "in": "path", "required": true},
                    {"type": "integer", "name": "after", "in": "query"},
                    {"type": "integer", "name": "before", "in": "query"},
                    {"type": "integer", "default": 20, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["内容"],
                "summary": "发表评论",
                "parameters": [
                    {"type": "integer", "name": "item_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.commentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/likes": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["互动"],
                "summary": "点赞",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.likeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["互动"],
                "summary": "取消点赞",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.likeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/counters/{kind}/{id}/{attribute}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["互动"],
                "summary": "读取计数缓存",
                "parameters": [
                    {"enum": ["item", "comment", "user"], "type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "attribute", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/relations/follow": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["关系链"],
                "summary": "关注用户（异步冗余）",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.followRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/relations/unfollow": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["关系链"],
                "summary": "取消关注",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.followRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/relations/{user_id}/following": {
            "get": {
                "tags": ["关系链"],
                "summary": "查询关注列表",
                "parameters": [
                    {"type": "integer", "name": "user_id", "in": "path", "required": true},
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 10, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/relations/{user_id}/fans": {
            "get": {
                "tags": ["关系链"],
                "summary": "查询粉丝列表（来自冗余表）",
                "parameters": [
                    {"type": "integer", "name": "user_id", "in": "path", "required": true},
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 10, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/fanouts/{item_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["扇出"],
                "summary": "查询扇出状态",
                "parameters": [
                    {"type": "integer", "name": "item_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/fanouts/{item_id}/redispatch": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["扇出"],
                "summary": "重新投递扇出",
                "parameters": [
                    {"type": "integer", "name": "item_id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        }
    },
    "definitions": {
        "handler.publishRequest": {
            "type": "object",
            "required": ["content"],
            "properties": {"content": {"type": "string"}}
        },
        "handler.commentRequest": {
            "type": "object",
            "required": ["content"],
            "properties": {"content": {"type": "string"}}
        },
        "handler.likeRequest": {
            "type": "object",
            "required": ["kind", "object_id"],
            "properties": {"kind": {"type": "string"}, "object_id": {"type": "integer"}}
        },
        "handler.followRequest": {
            "type": "object",
            "required": ["to_user_id"],
            "properties": {"to_user_id": {"type": "integer"}}
        },
        "response.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"}
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
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "newsfeed API",
	Description:      "Feed fan-out with bounded window caches, counter cache and cursor pagination.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
