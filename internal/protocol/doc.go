// Package protocol defines the JSON messages exchanged over the relay's
// WebSocket connection and the chunking used to move an artifact larger than
// a single message.
//
// Every message is a JSON object with a "type" discriminator:
//
//	auth              client -> server   {type, clientId, authenticated}
//	auth_result       server -> client   {type, authenticated, message}
//	print             server -> client   {type, jobId, chunk, offset, total, settings}
//	print (done)      server -> client   {type, jobId, done, total, settings}
//	print_job_update  client -> server   {type, data:{jobId, status, message}}
//	printer-status    client -> server   {type, data:{printers, defaultPrinter, queueStatus}}
//	get-printers      server -> client   {type}
//	cancel-job        server -> client   {type, jobId}
//	error             both               {type, message}
//
// Frames of one job travel on one connection and arrive in send order, so
// the receiver only has to append.
package protocol
