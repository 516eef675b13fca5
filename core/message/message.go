// Package message defines the records exchanged between clients,
// coordinators, shard servers and the auditor. Messages are plain values;
// they are never mutated after being sent.
package message

import (
	"fmt"

	"github.com/sushant-115/gojotxn/core/transaction"
)

// Address names an actor on the simulated network, e.g. "coordinator-0".
type Address string

func CoordinatorAddress(i int) Address { return Address(fmt.Sprintf("coordinator-%d", i)) }
func ServerAddress(i int) Address      { return Address(fmt.Sprintf("server-%d", i)) }
func ClientAddress(i int) Address      { return Address(fmt.Sprintf("client-%d", i)) }

// AuditorAddress is the well-known address of the correctness auditor.
const AuditorAddress Address = "auditor"

// Message is implemented by every record that travels through a mailbox.
type Message interface {
	Kind() string
}

// Envelope is a message in flight together with its endpoints.
type Envelope struct {
	From Address
	To   Address
	Msg  Message
}

// --- Client <-> Coordinator ---

type TxnBegin struct {
	ClientID int
	Attempt  int
}

type TxnAccept struct {
	ClientID int
	Attempt  int
}

type Read struct {
	ClientID int
	Attempt  int
	Key      int
}

type ReadResult struct {
	ClientID int
	Attempt  int
	Key      int
	Value    int
}

type Write struct {
	ClientID int
	Attempt  int
	Key      int
	Value    int
}

type TxnEnd struct {
	ClientID int
	Attempt  int
	Commit   bool
}

type TxnResult struct {
	ClientID int
	Attempt  int
	Commit   bool
}

// --- Coordinator <-> Participant ---

// VoteRequest asks a shard to validate and vote. Servers is the complete
// participant set, used by the termination protocol. Ops is the number of
// actions the coordinator forwarded to the receiving shard.
type VoteRequest struct {
	Txn     transaction.ID
	Servers []Address
	Ops     int
}

type VoteResponse struct {
	Txn  transaction.ID
	Vote transaction.Vote
}

type DecisionRequest struct {
	Txn transaction.ID
}

type DecisionResponse struct {
	Txn      transaction.ID
	Decision transaction.Decision
}

type TransactionRead struct {
	Txn transaction.ID
	Key int
}

type TransactionWrite struct {
	Txn   transaction.ID
	Key   int
	Value int
}

type ReadResponse struct {
	Txn   transaction.ID
	Key   int
	Value int
}

// --- Internal (self-addressed) ---

// Recovery is delivered by the crash timer.
type Recovery struct{}

// Timeout is delivered by a per-request timer. Peer is empty for the
// participant's single decision timer.
type Timeout struct {
	Txn   transaction.ID
	Peer  Address
	Timer transaction.TimerID
}

// --- Auditor ---

type CheckCorrectness struct{}

// Roles carried by CorrectnessReport.
const (
	RoleCoordinator = "coordinator"
	RoleServer      = "server"
)

// CorrectnessReport answers CheckCorrectness. Sum is only meaningful for
// shard servers. Crashes maps crash phase names to counts.
type CorrectnessReport struct {
	Role    string
	Sum     int
	Crashes map[string]int
}

func (TxnBegin) Kind() string          { return "TxnBegin" }
func (TxnAccept) Kind() string         { return "TxnAccept" }
func (Read) Kind() string              { return "Read" }
func (ReadResult) Kind() string        { return "ReadResult" }
func (Write) Kind() string             { return "Write" }
func (TxnEnd) Kind() string            { return "TxnEnd" }
func (TxnResult) Kind() string         { return "TxnResult" }
func (VoteRequest) Kind() string       { return "VoteRequest" }
func (VoteResponse) Kind() string      { return "VoteResponse" }
func (DecisionRequest) Kind() string   { return "DecisionRequest" }
func (DecisionResponse) Kind() string  { return "DecisionResponse" }
func (TransactionRead) Kind() string   { return "TransactionRead" }
func (TransactionWrite) Kind() string  { return "TransactionWrite" }
func (ReadResponse) Kind() string      { return "ReadResponse" }
func (Recovery) Kind() string          { return "Recovery" }
func (Timeout) Kind() string           { return "Timeout" }
func (CheckCorrectness) Kind() string  { return "CheckCorrectness" }
func (CorrectnessReport) Kind() string { return "CorrectnessReport" }
