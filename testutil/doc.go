// Package testutil provides shared test fixtures for controlbus packages.
//
// MockTransport is a scriptable transport for driving the hub and adapters
// without sockets. TouchDeclaration and the wire message constants describe
// a small component used across package tests. StartNATS runs a NATS server
// in a container for integration tests:
//
//	//go:build integration
//
//	func TestSomething(t *testing.T) {
//		srv := testutil.StartNATS(t)
//		tr, _ := nats.New(transport.Config{Type: "nats", Address: srv.URL}, transport.Dependencies{})
//		...
//	}
package testutil
