package raft

import "go.uber.org/zap"

// handleDatagram decodes a single raw datagram and dispatches it to the
// matching handler. Decode failures are logged and the datagram is
// dropped; they never propagate as errors out of the replica loop.
func (c *Consensus) handleDatagram(datagram []byte, fromAddr string) {
	t, payload, err := decodeDatagram(datagram)
	if err != nil {
		c.log.Warn("raft: malformed datagram", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch t {
	case msgClusterJoin:
		msg, err := decodeClusterJoinRPC(payload)
		if err != nil {
			c.log.Warn("raft: bad cluster_join_rpc", zap.Error(err))
			return
		}
		c.onClusterJoinLocked(msg)
	case msgAddPeer:
		msg, err := decodeAddPeerRPC(payload)
		if err != nil {
			c.log.Warn("raft: bad add_peer_rpc", zap.Error(err))
			return
		}
		c.onAddPeerLocked(msg)
	case msgForwardValue:
		msg, err := decodeForwardValueRPC(payload)
		if err != nil {
			c.log.Warn("raft: bad forward_value_rpc", zap.Error(err))
			return
		}
		if c.state == Leader {
			c.entries = append(c.entries, LogEntry{Term: c.currentTerm, Command: msg.Command})
			c.persistLocked()
			c.broadcastAppendEntriesLocked()
		}
	case msgAppendEntriesRPC:
		msg, err := decodeAppendEntriesRPC(payload)
		if err != nil {
			c.log.Warn("raft: bad append_entries_rpc", zap.Error(err))
			return
		}
		c.onAppendEntriesLocked(msg, fromAddr)
	case msgAppendEntriesReply:
		msg, err := decodeAppendEntriesReply(payload)
		if err != nil {
			c.log.Warn("raft: bad append_entries_reply", zap.Error(err))
			return
		}
		c.onAppendEntriesReplyLocked(msg, fromAddr)
	case msgRequestVoteRPC:
		msg, err := decodeRequestVoteRPC(payload)
		if err != nil {
			c.log.Warn("raft: bad request_vote_rpc", zap.Error(err))
			return
		}
		c.onRequestVoteLocked(msg, fromAddr)
	case msgRequestVoteReply:
		msg, err := decodeRequestVoteReply(payload)
		if err != nil {
			c.log.Warn("raft: bad request_vote_reply", zap.Error(err))
			return
		}
		c.onRequestVoteReplyLocked(msg, fromAddr)
	default:
		c.log.Warn("raft: unknown message type")
	}
}

// onClusterJoinLocked registers a fresh node. If this replica is leader, it
// registers the peer directly and broadcasts add_peer_rpc to the rest of
// the group; non-leaders forward the join to the current leader.
func (c *Consensus) onClusterJoinLocked(msg clusterJoinRPC) {
	if c.state != Leader {
		if leader, ok := c.peers[c.currentLeaderID]; ok {
			c.sendTo(leader.Addr, msg.encode())
		}
		return
	}
	if _, exists := c.peers[msg.NodeID]; !exists {
		c.peers[msg.NodeID] = &Peer{ID: msg.NodeID, Addr: msg.Addr}
		c.nextIndex[msg.NodeID] = int32(len(c.entries))
		c.matchIndex[msg.NodeID] = -1
	}
	rpc := addPeerRPC{NodeID: msg.NodeID, Addr: msg.Addr}
	payload := rpc.encode()
	for id, p := range c.peers {
		if id == msg.NodeID {
			continue
		}
		c.sendTo(p.Addr, payload)
	}
}

func (c *Consensus) onAddPeerLocked(msg addPeerRPC) {
	if _, exists := c.peers[msg.NodeID]; !exists {
		c.peers[msg.NodeID] = &Peer{ID: msg.NodeID, Addr: msg.Addr}
	}
	if c.state == Dead {
		c.state = Follower
		c.resetElectionDeadlineLocked()
	}
}
