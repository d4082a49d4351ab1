package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           diffusiond API
// @version         1.0
// @description     HTTP API for managing a single resident diffusion pipeline.
//
// @contact.name   diffusiond maintainers
// @contact.url    https://github.com/your-org/diffusiond
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
