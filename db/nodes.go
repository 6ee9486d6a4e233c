package db

import (
	"database/sql"
	"time"

	"github.com/kinfolkhq/kinfolk/domain"
)

// Trust store queries
const (
	sqlInsertNode = `INSERT INTO nodes(hostname, status, shared_secret, remote_node_id, scope, resource_type, resource_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateNode = `UPDATE nodes SET status = ?, shared_secret = ?, remote_node_id = ? WHERE hostname = ? AND scope = ? AND resource_type = ? AND resource_id = ?`
	sqlDeleteNode = `DELETE FROM nodes WHERE hostname = ? AND scope = ? AND resource_type = ? AND resource_id = ?`

	sqlSelectNodeByHostname = `SELECT hostname, status, shared_secret, remote_node_id, scope, resource_type, resource_id, created_at FROM nodes
								WHERE hostname = ? AND scope = 'full'`
	sqlSelectAnyNodeByHostname = `SELECT hostname, status, shared_secret, remote_node_id, scope, resource_type, resource_id, created_at FROM nodes
								WHERE hostname = ? ORDER BY CASE scope WHEN 'full' THEN 0 ELSE 1 END LIMIT 1`
	sqlSelectConnectedNodes = `SELECT hostname, status, shared_secret, remote_node_id, scope, resource_type, resource_id, created_at FROM nodes
								WHERE status = 'connected'`
	sqlSelectAllNodes = `SELECT hostname, status, shared_secret, remote_node_id, scope, resource_type, resource_id, created_at FROM nodes ORDER BY hostname`
)

func (db *DB) CreateNode(node *domain.Node) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNode,
			node.Hostname,
			node.Status,
			node.SharedSecret,
			node.RemoteNodeId,
			node.Scope,
			node.ResourceType,
			node.ResourceId,
			node.CreatedAt,
		)
		return err
	})
}

// UpdateNode rewrites status, secret and remote id for a re-pairing.
func (db *DB) UpdateNode(node *domain.Node) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateNode,
			node.Status,
			node.SharedSecret,
			node.RemoteNodeId,
			node.Hostname,
			node.Scope,
			node.ResourceType,
			node.ResourceId,
		)
		return err
	})
}

// DeleteNode removes one connection. Removal is always explicit; nothing
// expires nodes automatically.
func (db *DB) DeleteNode(hostname, scope, resourceType, resourceId string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNode, hostname, scope, resourceType, resourceId)
		return err
	})
}

// ReadNodeByHostname returns the full-scope connection for a hostname.
func (db *DB) ReadNodeByHostname(hostname string) (error, *domain.Node) {
	return db.scanNode(db.db.QueryRow(sqlSelectNodeByHostname, hostname))
}

// ReadAnyNodeByHostname returns the full connection if one exists, else
// any targeted connection for the hostname. Inbound signature checks use
// this: a targeted peer still signs with its own secret.
func (db *DB) ReadAnyNodeByHostname(hostname string) (error, *domain.Node) {
	return db.scanNode(db.db.QueryRow(sqlSelectAnyNodeByHostname, hostname))
}

func (db *DB) scanNode(row *sql.Row) (error, *domain.Node) {
	var node domain.Node
	var secret, remoteId sql.NullString
	err := row.Scan(
		&node.Hostname,
		&node.Status,
		&secret,
		&remoteId,
		&node.Scope,
		&node.ResourceType,
		&node.ResourceId,
		&node.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	node.SharedSecret = secret.String
	node.RemoteNodeId = remoteId.String
	return nil, &node
}

func (db *DB) ReadConnectedNodes() (error, *[]domain.Node) {
	return db.queryNodes(sqlSelectConnectedNodes)
}

func (db *DB) ReadAllNodes() (error, *[]domain.Node) {
	return db.queryNodes(sqlSelectAllNodes)
}

func (db *DB) queryNodes(query string, args ...interface{}) (error, *[]domain.Node) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		var node domain.Node
		var secret, remoteId sql.NullString
		if err := rows.Scan(&node.Hostname, &node.Status, &secret, &remoteId, &node.Scope, &node.ResourceType, &node.ResourceId, &node.CreatedAt); err != nil {
			return err, &nodes
		}
		node.SharedSecret = secret.String
		node.RemoteNodeId = remoteId.String
		nodes = append(nodes, node)
	}
	if err = rows.Err(); err != nil {
		return err, &nodes
	}
	return nil, &nodes
}

// Pair token queries
const (
	sqlInsertPairToken  = `INSERT INTO pair_tokens(token, scope, resource_type, resource_id, expires_at, used, created_at) VALUES (?, ?, ?, ?, ?, 0, ?)`
	sqlSelectPairToken  = `SELECT token, scope, resource_type, resource_id, expires_at, used, created_at FROM pair_tokens WHERE token = ?`
	sqlConsumePairToken = `UPDATE pair_tokens SET used = 1 WHERE token = ? AND used = 0`
)

func (db *DB) CreatePairToken(token *domain.PairToken) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPairToken,
			token.Token,
			token.Scope,
			token.ResourceType,
			token.ResourceId,
			token.ExpiresAt,
			token.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPairToken(token string) (error, *domain.PairToken) {
	row := db.db.QueryRow(sqlSelectPairToken, token)
	var t domain.PairToken
	err := row.Scan(&t.Token, &t.Scope, &t.ResourceType, &t.ResourceId, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &t
}

// ConsumePairToken marks the token used. Returns false if it was already
// consumed, so concurrent pairing calls cannot both succeed.
func (db *DB) ConsumePairToken(token string) (bool, error) {
	var consumed bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlConsumePairToken, token)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		consumed = n == 1
		return nil
	})
	return consumed, err
}

// NewPairToken builds a token record valid for ttl from now.
func NewPairToken(token, scope, resourceType, resourceId string, ttl time.Duration) *domain.PairToken {
	now := time.Now()
	return &domain.PairToken{
		Token:        token,
		Scope:        scope,
		ResourceType: resourceType,
		ResourceId:   resourceId,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}
}
