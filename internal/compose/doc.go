// Package compose writes the French replies returned by each quote tool.
//
// Replies are markdown. With FormatHTML the same text is rendered through
// goldmark for clients that display HTML.
package compose
