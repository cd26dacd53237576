package common

import (
	"afpbridge/internal/proto"
)

// Map translates a remote result code into a surfaced failure. The target
// string is path or server context for the message. Success maps to nil.
// No retry logic lives here; classification and formatting only.
func Map(code proto.Code, target string) *Failure {
	switch code {
	case proto.CodeOK:
		return nil
	case proto.CodeNotFound:
		return Newf(KindDoesNotExist, "%s does not exist", target)
	case proto.CodeAccessDenied:
		return Newf(KindAccessDenied, "access denied to %s", target)
	case proto.CodeExists:
		return Newf(KindAlreadyExists, "%s already exists", target)
	case proto.CodeNoVolume:
		return Newf(KindVolumeNotFound, "volume %s not found", target)
	case proto.CodeIsDirectory:
		return Newf(KindIsDirectory, "%s is a directory", target)
	case proto.CodeNotDirectory:
		return Newf(KindDoesNotExist, "%s is not a directory", target)
	case proto.CodeTimedOut:
		return Newf(KindServerTimeout, "timeout talking to %s", target)
	case proto.CodeDaemonError:
		return Newf(KindDaemonUnreachable, "session daemon error while accessing %s", target)
	case proto.CodeNoServer:
		return Newf(KindCannotConnect, "no such server: %s", target)
	case proto.CodeUnsupported:
		return Newf(KindUnsupported, "operation not supported on %s", target)
	case proto.CodeNotConnected:
		return Newf(KindNotConnected, "not connected to %s", target)
	case proto.CodeNotAttached:
		return Newf(KindNotAttached, "not attached to %s", target)
	case proto.CodeAuthFailed:
		return Newf(KindAuthFailed, "authentication failed for %s", target)
	case proto.CodeNoAddress, proto.CodeHostUnreachable, proto.CodeConnRefused, proto.CodeNetUnreachable:
		return Newf(KindCannotConnect, "cannot reach %s: %s", target, code)
	default:
		return Newf(KindInternal, "internal error (%s) on %s", code, target)
	}
}

// MapConnect specializes connect-time failures with server context.
// The message table follows the legacy client's connect error handling.
func MapConnect(code proto.Code, server string) *Failure {
	switch code {
	case proto.CodeOK:
		return nil
	case proto.CodeAuthFailed, proto.CodeAccessDenied:
		return Newf(KindAuthFailed, "login incorrect on %s", server)
	case proto.CodeNoAddress, proto.CodeNoServer:
		return Newf(KindCannotConnect, "could not get address of server %s", server)
	case proto.CodeTimedOut:
		return Newf(KindServerTimeout, "timeout connecting to %s", server)
	case proto.CodeHostUnreachable:
		return Newf(KindCannotConnect, "no route to host %s", server)
	case proto.CodeConnRefused:
		return Newf(KindCannotConnect, "connection refused by %s", server)
	case proto.CodeNetUnreachable:
		return Newf(KindCannotConnect, "server %s unreachable", server)
	case proto.CodeDaemonError:
		return Newf(KindDaemonUnreachable, "session daemon unavailable while connecting to %s", server)
	default:
		return Newf(KindCannotConnect, "internal error connecting to %s (%s)", server, code)
	}
}
