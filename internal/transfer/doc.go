// Package transfer fetches artifacts and their detached signatures from an
// update server and refuses to hand back anything it could not verify.
//
// The server is spoken to over plain HTTP. Authenticity comes from the
// RSASSA-PSS signature published next to every artifact at "<path>.sig",
// not from the transport. A Pipeline call walks through
//
//	Connecting -> FetchingFile -> FetchingSignature -> Verifying -> Done
//
// and drops into Failed from any stage, removing every temporary file it
// created before returning the error. Nothing in this package retries.
package transfer
