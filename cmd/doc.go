// Package cmd implements the sKV command line interface. The CLI operates
// directly on a state database file: the kv command group covers key-value
// operations, the maintain group covers flush, vacuum and statistics.
package cmd
