// Package sshutil wraps golang.org/x/crypto/ssh and github.com/pkg/sftp
// for the Provisioning Orchestrator's remote steps: reachability probes
// (zone_setup's pre-flight check, zone_wait_ssh), folder sync
// (zone_sync), and remote command/playbook execution (zone_provision).
package sshutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/Makr91/zoneweaver-api/internal/models"
)

// Dial opens an SSH connection to host:port using creds, honoring ctx's
// deadline. Host key verification is intentionally permissive (the zone
// is a freshly provisioned, agent-managed guest with no prior known-hosts
// entry); this matches the spec's scope, which excludes authentication
// hardening as an agent concern.
func Dial(ctx context.Context, host string, port int, creds models.Credentials, timeout time.Duration) (*ssh.Client, error) {
	if port == 0 {
		port = 22
	}

	auth, err := authMethod(creds)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func authMethod(creds models.Credentials) (ssh.AuthMethod, error) {
	if creds.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(creds.Password), nil
}

// Probe reports whether host:port accepts an SSH handshake within
// timeout, used for the zone_setup pre-flight check (§4.4 step 3) and by
// zone_wait_ssh.
func Probe(ctx context.Context, host string, port int, creds models.Credentials, timeout time.Duration) bool {
	client, err := Dial(ctx, host, port, creds, timeout)
	if err != nil {
		return false
	}
	client.Close()
	return true
}

// RunCommand executes command on the remote host over a new SSH session
// and returns combined stdout+stderr.
func RunCommand(ctx context.Context, client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		return "", ctx.Err()
	case r := <-done:
		return string(r.out), r.err
	}
}

// SyncFolder writes each entry of files (remote path to file content) as
// a regular file over an SFTP session derived from client, implementing
// the zone_sync step (§4.4 step 5). Missing parent directories of each
// remote path are created first.
func SyncFolder(ctx context.Context, client *ssh.Client, files map[string][]byte) error {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	for remotePath, content := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sftpClient.MkdirAll(parentDir(remotePath)); err != nil {
			return err
		}
		f, err := sftpClient.Create(remotePath)
		if err != nil {
			return err
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
