// Package prompts contains the fixed instructions Nexus sends to
// reasoning engines.
//
// Prompt text is Go code rather than config because it is program logic:
// templates use fmt.Sprintf interpolation and are checked by tests. Each
// prompt gets its own file with an exported function that accepts the
// dynamic parts and returns the fully interpolated string.
package prompts
