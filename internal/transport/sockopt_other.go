//go:build !unix

package transport

import "syscall"

func dualStack(string, string, syscall.RawConn) error { return nil }
