// Package serve implements the `dwire serve` command starting a development server.
package serve
