/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package probe

import (
	"fmt"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	"github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
	"github.com/AMD-AIG-AIMA/GHX/pkg/utils/concurrent"
)

// TrustResult is the per-node outcome of a trust setup run.
type TrustResult struct {
	Host       string `json:"host"`
	InternalIp string `json:"internalIp,omitempty"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// TrustReport summarizes a trust setup run across all nodes.
type TrustReport struct {
	Results      []TrustResult `json:"results"`
	SuccessCount int           `json:"successCount"`
	TotalCount   int           `json:"totalCount"`
}

type trustNode struct {
	conn       sshexec.Connection
	internalIP string
	pubkey     string
	display    string
}

// SetupSSHTrust establishes passwordless SSH between every pair of nodes:
// collect or generate each node's keypair, then fan the combined
// authorized_keys and known_hosts out to all of them.
func SetupSSHTrust(dial DialFunc, nodes []sshexec.Connection) (*TrustReport, error) {
	if len(nodes) < 2 {
		return nil, errors.NewBadRequest("at least 2 nodes are required for ssh trust setup")
	}
	if dial == nil {
		dial = Dial
	}

	report := &TrustReport{TotalCount: len(nodes)}
	var collected []*trustNode

	klog.Infof("collecting ssh public keys from %d nodes", len(nodes))
	for _, conn := range nodes {
		port := conn.Port
		if port == 0 {
			port = 22
		}
		display := fmt.Sprintf("%s:%d", conn.Host, port)
		node, err := collectNodeKey(dial, conn, display)
		if err != nil {
			klog.ErrorS(err, "failed to collect public key", "host", display)
			report.Results = append(report.Results, TrustResult{
				Host: display, Status: "error", Message: err.Error(),
			})
			continue
		}
		collected = append(collected, node)
		report.Results = append(report.Results, TrustResult{
			Host:       display,
			InternalIp: node.internalIP,
			Status:     "pubkey_collected",
			Message:    fmt.Sprintf("public key collected (internal ip %s)", node.internalIP),
		})
	}

	if len(collected) < 2 {
		return report, errors.NewBadRequest(
			fmt.Sprintf("only %d public keys collected, cannot establish trust", len(collected)))
	}

	klog.Infof("distributing %d public keys", len(collected))
	pubkeys := make([]string, 0, len(collected))
	ips := make([]string, 0, len(collected))
	for _, node := range collected {
		pubkeys = append(pubkeys, node.pubkey)
		ips = append(ips, node.internalIP)
	}
	authorizedKeys := strings.Join(pubkeys, "\n")

	work := make(chan *trustNode, len(collected))
	for _, node := range collected {
		work <- node
	}
	close(work)

	var mu sync.Mutex
	if _, err := concurrent.Exec(len(collected), func() error {
		node, ok := <-work
		if !ok {
			return nil
		}
		if err := distributeTrust(dial, node, authorizedKeys, ips); err != nil {
			klog.ErrorS(err, "failed to distribute trust", "host", node.display)
			mu.Lock()
			setResult(report, node.display, "error", fmt.Sprintf("key distribution failed: %v", err), node.internalIP)
			mu.Unlock()
			return err
		}
		mu.Lock()
		setResult(report, node.display, "success",
			fmt.Sprintf("ssh trust established (internal ip %s)", node.internalIP), node.internalIP)
		report.SuccessCount++
		mu.Unlock()
		return nil
	}); err != nil {
		klog.ErrorS(err, "ssh trust distribution incomplete")
	}
	return report, nil
}

func collectNodeKey(dial DialFunc, conn sshexec.Connection, display string) (*trustNode, error) {
	sess, err := dial(conn)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if _, err := sess.Run("mkdir -p /root/.ssh && chmod 700 /root/.ssh", common.DefaultExecTimeout, true); err != nil {
		return nil, err
	}
	ipRes, err := sess.Run(internalIPCommand, common.DefaultExecTimeout, false)
	if err != nil {
		return nil, err
	}
	internalIP := strings.TrimSpace(ipRes.Stdout)
	if internalIP == "" {
		return nil, fmt.Errorf("could not resolve internal ip of %s", display)
	}

	probeRes, err := sess.Run("[ -f /root/.ssh/id_rsa ] && echo EXISTS || echo MISSING", common.DefaultExecTimeout, true)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(probeRes.Stdout) == "MISSING" {
		klog.Infof("generating keypair on %s (internal ip %s)", display, internalIP)
		if _, err := sess.Run("ssh-keygen -t rsa -b 2048 -f /root/.ssh/id_rsa -N '' -q", common.DefaultExecTimeout, true); err != nil {
			return nil, err
		}
	}

	pubRes, err := sess.Run("cat /root/.ssh/id_rsa.pub", common.DefaultExecTimeout, true)
	if err != nil {
		return nil, err
	}
	pubkey := strings.TrimSpace(pubRes.Stdout)
	if pubRes.ExitCode != 0 || pubkey == "" {
		return nil, fmt.Errorf("could not read public key of %s", display)
	}
	return &trustNode{conn: conn, internalIP: internalIP, pubkey: pubkey, display: display}, nil
}

func distributeTrust(dial DialFunc, node *trustNode, authorizedKeys string, ips []string) error {
	sess, err := dial(node.conn)
	if err != nil {
		return err
	}
	defer sess.Close()

	escaped := strings.ReplaceAll(authorizedKeys, "'", `'\''`)
	writeCmd := fmt.Sprintf("echo '%s' > /root/.ssh/authorized_keys && chmod 600 /root/.ssh/authorized_keys", escaped)
	if _, err := sess.Run(writeCmd, common.DefaultExecTimeout, true); err != nil {
		return err
	}
	if _, err := sess.Run(
		"grep -q 'StrictHostKeyChecking' /etc/ssh/ssh_config || echo 'StrictHostKeyChecking no' >> /etc/ssh/ssh_config",
		common.DefaultExecTimeout, true); err != nil {
		return err
	}
	scanCmd := fmt.Sprintf(
		"ssh-keyscan -t rsa %s >> /root/.ssh/known_hosts 2>/dev/null; sort -u /root/.ssh/known_hosts -o /root/.ssh/known_hosts",
		strings.Join(ips, " "))
	if _, err := sess.Run(scanCmd, common.DefaultExecTimeout, true); err != nil {
		return err
	}
	klog.Infof("ssh trust configured on %s", node.display)
	return nil
}

func setResult(report *TrustReport, display, status, message, internalIP string) {
	for i := range report.Results {
		if report.Results[i].Host == display {
			report.Results[i].Status = status
			report.Results[i].Message = message
			report.Results[i].InternalIp = internalIP
			return
		}
	}
}
