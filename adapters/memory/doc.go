// Package memory provides in-process implementations of the hublink
// repository interfaces. Contents are lost when the process exits, so it
// suits tests, demos and embedders that bring their own persistence.
package memory
