/*
Package security provides the daemon's mTLS certificate machinery: an
in-memory root CA created at startup, certificate issuance for the
daemon's own listener and for clients/admins, and PEM file
load/save/rotation helpers around a configured certificate directory.

There is no persistent store here — rrockerd runs as a single daemon,
not a cluster, so the CA lives for the process's lifetime. Operators
distribute issued client certificates out of band; a restart with a
fresh CA means previously issued certificates stop verifying and must
be reissued.

	ca := security.NewCertAuthority()
	ca.Initialize()
	serverCert, _ := ca.IssueServerCertificate(dnsNames, ips)
	clientCert, _ := ca.IssueClientCertificate("alice", "client")
*/
package security
