package raft

import "time"

// startElectionLocked transitions follower/candidate -> candidate, votes
// for itself, and broadcasts RequestVote to every known peer.
func (c *Consensus) startElectionLocked() {
	c.state = Candidate
	c.currentTerm++
	c.votedFor = c.nodeID
	c.votesReceived = 1 // votes for itself
	c.persistLocked()
	c.resetElectionDeadlineLocked()

	rpc := requestVoteRPC{
		Term:         c.currentTerm,
		CandidateID:  c.nodeID,
		LastLogIndex: c.lastLogIndex(),
		LastLogTerm:  c.lastLogTerm(),
	}
	payload := rpc.encode()
	for _, p := range c.peers {
		c.sendTo(p.Addr, payload)
	}
}

// tryJoinLocked is invoked periodically while dead: send cluster_join_rpc
// to every known peer until an add_peer_rpc or an AppendEntries from the
// leader moves this node out of the dead state.
func (c *Consensus) tryJoinLocked() {
	rpc := clusterJoinRPC{NodeID: c.nodeID, Addr: c.addr}
	payload := rpc.encode()
	for _, p := range c.peers {
		c.sendTo(p.Addr, payload)
	}
}

// becomeLeaderLocked transitions candidate -> leader once a majority of
// votes is received, initializing per-follower leader bookkeeping.
func (c *Consensus) becomeLeaderLocked() {
	c.state = Leader
	c.currentLeaderID = c.nodeID
	logLen := int32(len(c.entries))
	for id := range c.peers {
		c.nextIndex[id] = logLen
		c.matchIndex[id] = -1
	}
	c.heartbeatDeadline = time.Now().Add(heartbeatInterval)
	c.broadcastAppendEntriesLocked()
}

// broadcastAppendEntriesLocked sends AppendEntries (heartbeat or entries)
// to every peer, tailored to each peer's nextIndex.
func (c *Consensus) broadcastAppendEntriesLocked() {
	for id, p := range c.peers {
		next := c.nextIndex[id]
		if next < 0 {
			next = 0
		}
		prevLogIndex := next - 1
		prevLogTerm := int32(-1)
		if prevLogIndex >= 0 && int(prevLogIndex) < len(c.entries) {
			prevLogTerm = c.entries[prevLogIndex].Term
		}
		var toSend []LogEntry
		if int(next) < len(c.entries) {
			toSend = append(toSend, c.entries[next:]...)
		}
		rpc := appendEntriesRPC{
			Term:         c.currentTerm,
			LeaderID:     c.nodeID,
			PrevLogIndex: prevLogIndex,
			PrevLogTerm:  prevLogTerm,
			Entries:      toSend,
			LeaderCommit: c.commitIndex,
		}
		c.sendTo(p.Addr, rpc.encode())
	}
}

// onRequestVoteLocked implements the RequestVote RPC handler per the
// grant conditions: term currency, at-most-one-vote-per-term, and the
// candidate's log being at least as up-to-date as ours.
func (c *Consensus) onRequestVoteLocked(rpc requestVoteRPC, fromAddr string) {
	if rpc.Term > c.currentTerm {
		c.becomeFollowerLocked(rpc.Term)
	}
	c.touchPeerLocked(rpc.CandidateID, fromAddr)

	granted := false
	if rpc.Term == c.currentTerm {
		logOK := rpc.LastLogTerm > c.lastLogTerm() ||
			(rpc.LastLogTerm == c.lastLogTerm() && rpc.LastLogIndex >= c.lastLogIndex())
		if (c.votedFor == -1 || c.votedFor == rpc.CandidateID) && logOK {
			c.votedFor = rpc.CandidateID
			c.persistLocked()
			c.resetElectionDeadlineLocked()
			granted = true
		}
	}

	reply := requestVoteReply{FromID: c.nodeID, Term: c.currentTerm, VoteGranted: granted}
	c.sendTo(fromAddr, reply.encode())
}

func (c *Consensus) onRequestVoteReplyLocked(reply requestVoteReply, fromAddr string) {
	c.touchPeerLocked(reply.FromID, fromAddr)

	if reply.Term > c.currentTerm {
		c.becomeFollowerLocked(reply.Term)
		return
	}
	if c.state != Candidate || reply.Term != c.currentTerm || !reply.VoteGranted {
		return
	}
	c.votesReceived++
	if c.votesReceived > (c.onlinePeerCount()+1)/2 {
		c.becomeLeaderLocked()
	}
}

func (c *Consensus) touchPeerLocked(id int32, addr string) {
	p, ok := c.peers[id]
	if !ok {
		p = &Peer{ID: id, Addr: addr}
		c.peers[id] = p
	}
	p.Addr = addr
	p.LastActiveTime = time.Now()
}
