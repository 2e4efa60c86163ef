package registry

import "github.com/SimonWaldherr/dbhub/internal/model"

// message is the closed set of mailbox messages.
type message interface {
	isMessage()
}

type addConnection struct {
	id   model.DatabaseID
	conn model.Connection
}

type closeConnection struct {
	id model.DatabaseID
}

// closeAllConnections replies once every connection is closed. With final
// set the loop stops after replying.
type closeAllConnections struct {
	final bool
	reply chan error
}

type getConnection struct {
	id    model.DatabaseID
	reply chan lookup
}

type lookup struct {
	conn model.Connection
	ok   bool
}

func (addConnection) isMessage()       {}
func (closeConnection) isMessage()     {}
func (closeAllConnections) isMessage() {}
func (getConnection) isMessage()       {}
