package main

// General API documentation for swaggo. The module ships no Makefile and no
// generated docs package; these annotations are input for `swag init`.
//
// @title           modeld admin API
// @version         1.0
// @description     Admin/observability HTTP surface for the model repository manager: health, readiness, status, metrics, and (EXPLICIT mode) load/unload.
//
// @contact.name   modeld maintainers
// @contact.url    https://github.com/your-org/modeld
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
