// Package remote carries binding traffic to and from the remote runtime
// over a framed byte stream.
package remote
