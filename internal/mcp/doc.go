// Package mcp connects to external Model Context Protocol servers and
// offers their tools to the planner as ordinary registry entries.
//
// Servers are reached over stdio (a subprocess) or streamable HTTP using
// the mcp-go client. Only the client side is implemented: initialize,
// tools/list, tools/call and ping.
package mcp
