// Package app wires configuration, authentication, the event bus transport
// and the cursor store into the pubsub command-line tool.
//
// Commands:
//
//	topic     -t <topic>                                  show topic metadata
//	schema    -id <schema id> | -t <topic> [-canonical]   print an Avro schema
//	subscribe -t <topic> [-from earliest|latest] [-rewind N] [-n max]
//	managed   -id <subscription id> | -name <developer name> [-n max]
//	publish   -t <topic> [-d <json>] [-stream]            fields from -d or stdin, one JSON object per line
//	cursors   [-delete <key>]                             list or remove stored replay cursors
//
// Delivered events are written to standard output as JSON lines; logs go to
// standard error.
package app
