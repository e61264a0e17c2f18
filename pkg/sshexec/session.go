/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package sshexec provides the remote control channel used to stage and run
// diagnostic tools on target hosts. Exactly one SSH connection is held per
// session; the SFTP channel is opened lazily on first upload and closed with
// the session.
package sshexec

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	"github.com/AMD-AIG-AIMA/GHX/pkg/errors"
)

const (
	AuthTypePassword   = "password"
	AuthTypePrivateKey = "privateKey"

	defaultConnectTimeout = 15 * time.Second
	defaultPort           = 22
)

// Auth carries the credential used to open a session.
type Auth struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Connection identifies a target host and how to log into it.
type Connection struct {
	Host         string `json:"host"`
	Port         int    `json:"port,omitempty"`
	Username     string `json:"username"`
	Auth         Auth   `json:"auth"`
	SudoPassword string `json:"sudoPassword,omitempty"`
}

// Result carries the outcome of one remote command. Stdout and stderr are
// fully drained before the exit code is read.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Session is an open control channel to one target host.
type Session struct {
	client       *ssh.Client
	sftpClient   *sftp.Client
	host         string
	username     string
	needSudo     bool
	sudoPassword string
}

// LoadPrivateKey parses a PEM or OpenSSH private key, optionally protected
// by a passphrase.
func LoadPrivateKey(keyStr, passphrase string) (ssh.Signer, error) {
	keyStr = strings.TrimSpace(keyStr)
	if keyStr == "" {
		return nil, errors.NewBadRequest("private key is empty")
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase([]byte(keyStr), []byte(passphrase))
		if err != nil {
			return nil, errors.NewBadRequest(fmt.Sprintf("failed to parse private key: %v", err))
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey([]byte(keyStr))
	if err != nil {
		return nil, errors.NewBadRequest(fmt.Sprintf("failed to parse private key: %v", err))
	}
	return signer, nil
}

func authMethods(conn Connection) ([]ssh.AuthMethod, error) {
	switch conn.Auth.Type {
	case AuthTypePassword:
		return []ssh.AuthMethod{ssh.Password(conn.Auth.Value)}, nil
	case AuthTypePrivateKey:
		signer, err := LoadPrivateKey(conn.Auth.Value, conn.Auth.Passphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, errors.NewBadRequest(fmt.Sprintf("unsupported auth type %q", conn.Auth.Type))
	}
}

// Open dials the target and returns a ready session. The caller must Close
// it, including on error paths.
func Open(conn Connection) (*Session, error) {
	methods, err := authMethods(conn)
	if err != nil {
		return nil, err
	}
	port := conn.Port
	if port == 0 {
		port = defaultPort
	}
	cfg := &ssh.ClientConfig{
		User:            conn.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         defaultConnectTimeout,
	}
	addr := fmt.Sprintf("%s:%d", conn.Host, port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errors.NewSSHConnectFailed(fmt.Sprintf("dial %s: %v", addr, err))
	}
	sudoPassword := conn.SudoPassword
	if sudoPassword == "" && conn.Auth.Type == AuthTypePassword {
		sudoPassword = conn.Auth.Value
	}
	return &Session{
		client:       client,
		host:         conn.Host,
		username:     conn.Username,
		needSudo:     conn.Username != "root",
		sudoPassword: sudoPassword,
	}, nil
}

func (s *Session) Close() error {
	if s.sftpClient != nil {
		if err := s.sftpClient.Close(); err != nil {
			klog.V(4).Infof("close sftp channel to %s: %v", s.host, err)
		}
		s.sftpClient = nil
	}
	return s.client.Close()
}

func (s *Session) sftp() (*sftp.Client, error) {
	if s.sftpClient != nil {
		return s.sftpClient, nil
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, errors.NewSSHConnectFailed(fmt.Sprintf("open sftp channel to %s: %v", s.host, err))
	}
	s.sftpClient = client
	return client, nil
}

// Run executes one command under `bash -lc 'set -euo pipefail; …'`. With
// requireRoot the wrapper is prefixed with sudo unless the login user is
// already root. The command's streams are drained fully; the exit code is
// read only after both are complete. A deadline overrun closes the exec
// channel and surfaces a timeout error.
func (s *Session) Run(command string, timeout time.Duration, requireRoot bool) (*Result, error) {
	if timeout <= 0 {
		timeout = common.DefaultExecTimeout
	}
	wrapped := WrapBash(command)
	feedSudo := false
	if requireRoot && s.needSudo {
		wrapped = sudoWrap(wrapped, s.sudoPassword != "")
		feedSudo = s.sudoPassword != ""
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, errors.NewSSHConnectFailed(fmt.Sprintf("open exec channel to %s: %v", s.host, err))
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if feedSudo {
		sess.Stdin = strings.NewReader(s.sudoPassword + "\n")
	}

	if err = sess.Start(wrapped); err != nil {
		return nil, errors.NewSSHConnectFailed(fmt.Sprintf("start command on %s: %v", s.host, err))
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err = <-done:
	case <-time.After(timeout):
		sess.Close()
		<-done
		return nil, errors.NewCommandTimeout(
			fmt.Sprintf("command on %s exceeded %s deadline", s.host, timeout))
	}

	result := &Result{
		Command:  command,
		Stdout:   strings.ToValidUTF8(stdout.String(), ""),
		Stderr:   strings.ToValidUTF8(stderr.String(), ""),
		ExitCode: 0,
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
		} else {
			return nil, errors.NewSSHConnectFailed(fmt.Sprintf("wait command on %s: %v", s.host, err))
		}
	}
	return result, nil
}

// Upload transfers one local file, creating the remote parent directory
// first. With executable set, chmod +x runs after the transfer (as root when
// the login user is unprivileged, matching where the tools are staged).
func (s *Session) Upload(localPath, remotePath string, executable bool) error {
	if _, err := s.Run(fmt.Sprintf("mkdir -p %s", path.Dir(remotePath)), 0, false); err != nil {
		return err
	}
	if err := s.put(localPath, remotePath); err != nil {
		return err
	}
	if executable {
		if _, err := s.Run(fmt.Sprintf("chmod +x %s", remotePath), 0, s.needSudo); err != nil {
			return err
		}
	}
	return nil
}

// UploadDir recursively transfers a directory, preserving executable bits.
func (s *Session) UploadDir(localDir, remoteDir string) error {
	if _, err := s.Run(fmt.Sprintf("mkdir -p %s", remoteDir), 0, false); err != nil {
		return err
	}
	return filepath.Walk(localDir, func(localPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		remotePath := path.Join(remoteDir, filepath.ToSlash(rel))
		if info.IsDir() {
			_, err = s.Run(fmt.Sprintf("mkdir -p %s", remotePath), 0, false)
			return err
		}
		if err = s.put(localPath, remotePath); err != nil {
			return err
		}
		if info.Mode()&0o111 != 0 {
			if _, err = s.Run(fmt.Sprintf("chmod +x %s", remotePath), 0, s.needSudo); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Session) put(localPath, remotePath string) error {
	client, err := s.sftp()
	if err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("open local file %s: %v", localPath, err))
	}
	defer src.Close()
	dst, err := client.Create(remotePath)
	if err != nil {
		return errors.NewSSHConnectFailed(fmt.Sprintf("create remote file %s on %s: %v", remotePath, s.host, err))
	}
	defer dst.Close()
	if _, err = dst.ReadFrom(src); err != nil {
		return errors.NewSSHConnectFailed(fmt.Sprintf("transfer %s to %s: %v", localPath, s.host, err))
	}
	return nil
}
