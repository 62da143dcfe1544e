// Package ntlm encodes and decodes the three NTLMSSP handshake messages used
// for HTTP proxy authentication: NEGOTIATE (Type1), CHALLENGE (Type2) and
// AUTHENTICATE (Type3).
//
// Only connection-oriented NTLMv2 responses are produced. Session security
// (signing, sealing, key exchange) is never negotiated, so no exported
// session key is carried in the AUTHENTICATE message.
package ntlm
