// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing records, transcripts and scripted
// model behavior. They are not intended for production usage.
package testutil
