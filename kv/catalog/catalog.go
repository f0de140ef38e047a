// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package catalog keeps the system tables describing databases, tablespaces, namespaces and tables. The system
// tables are ordinary DataTables, so catalog reads and writes are transactional like any other. The in-memory maps
// from oid and name to table are not: a table is reachable through Table as soon as CreateTable returns, but only
// the pg_class row says whether it exists in a given snapshot.
package catalog

import (
	"bytes"
	"sync"

	"github.com/pingcap-incubator/tinymvcc/kv/storage/table"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/tuple"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction"
	"github.com/pingcap-incubator/tinymvcc/kv/util/codec"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Oid uint32

const (
	DefaultDatabaseOid Oid = 1
	// Oids below startOid are reserved.
	startOid Oid = 1001
)

const (
	PgDatabase   = "pg_database"
	PgTablespace = "pg_tablespace"
	PgNamespace  = "pg_namespace"
	PgClass      = "pg_class"

	DefaultDatabase   = "terrier"
	GlobalTablespace  = "pg_global"
	DefaultTablespace = "pg_default"
	CatalogNamespace  = "pg_catalog"
)

// Columns of pg_database, pg_tablespace and pg_namespace: (oid, name).
const (
	ColOid  uint16 = 0
	ColName uint16 = 1
)

// Columns of pg_class.
const (
	ColRelOid        uint16 = 0
	ColRelName       uint16 = 1
	ColRelNamespace  uint16 = 2
	ColRelTablespace uint16 = 3
)

var (
	ErrTableExists   = errors.New("table already exists")
	ErrTableNotFound = errors.New("table not found")
)

// ClassEntry is a row of pg_class.
type ClassEntry struct {
	Oid        Oid
	Name       string
	Namespace  Oid
	Tablespace Oid
}

type Catalog struct {
	txns      *transaction.Manager
	pool      *undo.SegmentPool
	blockSize int
	nextOid   atomic.Uint32

	mu     sync.RWMutex
	tables map[Oid]*entry
	names  map[string]*entry
}

// entry is a registered table name. The name only exists for as long as the transaction that created it has not
// aborted.
type entry struct {
	table   *table.DataTable
	creator *transaction.Txn
}

func (e *entry) live() bool {
	return e.creator.State() != transaction.StateAborted
}

// Bootstrap creates the system tables and fills them inside a single transaction.
func Bootstrap(txns *transaction.Manager, blockSize int) (*Catalog, error) {
	c := &Catalog{
		txns:      txns,
		pool:      txns.Pool(),
		blockSize: blockSize,
		tables:    make(map[Oid]*entry),
		names:     make(map[string]*entry),
	}
	c.nextOid.Store(uint32(startOid))
	err := txns.RunInTxn(c.bootstrap)
	if err != nil {
		return nil, errors.Annotate(err, "bootstrap catalog")
	}
	log.Info("catalog bootstrapped", zap.Int("tables", len(c.tables)))
	return c, nil
}

func (c *Catalog) bootstrap(txn *transaction.Txn) error {
	var system [4]*table.DataTable
	for i, def := range []struct {
		name       string
		numColumns int
	}{{PgDatabase, 2}, {PgTablespace, 2}, {PgNamespace, 2}, {PgClass, 4}} {
		t, err := c.register(txn, def.name, def.numColumns)
		if err != nil {
			return errors.Trace(err)
		}
		system[i] = t
	}
	pgDatabase, pgTablespace, pgNamespace, pgClass := system[0], system[1], system[2], system[3]

	if _, err := pgDatabase.Insert(txn, nameRow(DefaultDatabaseOid, DefaultDatabase)); err != nil {
		return errors.Trace(err)
	}
	global, deflt := c.newOid(), c.newOid()
	for _, r := range []tuple.Row{nameRow(global, GlobalTablespace), nameRow(deflt, DefaultTablespace)} {
		if _, err := pgTablespace.Insert(txn, r); err != nil {
			return errors.Trace(err)
		}
	}
	namespace := c.newOid()
	if _, err := pgNamespace.Insert(txn, nameRow(namespace, CatalogNamespace)); err != nil {
		return errors.Trace(err)
	}

	classes := []ClassEntry{
		{Oid: Oid(pgDatabase.ID()), Name: PgDatabase, Namespace: namespace, Tablespace: global},
		{Oid: Oid(pgTablespace.ID()), Name: PgTablespace, Namespace: namespace, Tablespace: global},
		{Oid: Oid(pgNamespace.ID()), Name: PgNamespace, Namespace: namespace, Tablespace: deflt},
		{Oid: Oid(pgClass.ID()), Name: PgClass, Namespace: namespace, Tablespace: deflt},
	}
	for _, e := range classes {
		if _, err := pgClass.Insert(txn, classRow(e)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (c *Catalog) newOid() Oid {
	return Oid(c.nextOid.Inc() - 1)
}

// register reserves name for a table created by txn. A name left behind by an aborted creator is taken over.
func (c *Catalog) register(txn *transaction.Txn, name string, numColumns int) (*table.DataTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.names[name]; ok {
		if e.live() {
			return nil, errors.Annotatef(ErrTableExists, "name %s", name)
		}
		delete(c.tables, Oid(e.table.ID()))
	}
	oid := c.newOid()
	e := &entry{table: table.NewDataTable(uint32(oid), numColumns, c.blockSize, c.pool), creator: txn}
	c.tables[oid] = e
	c.names[name] = e
	return e.table, nil
}

func (c *Catalog) unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.names[name]; ok {
		delete(c.tables, Oid(e.table.ID()))
		delete(c.names, name)
	}
}

func nameRow(oid Oid, name string) tuple.Row {
	return tuple.NewRow(codec.EncodeUint32(uint32(oid)), []byte(name))
}

func classRow(e ClassEntry) tuple.Row {
	return tuple.NewRow(
		codec.EncodeUint32(uint32(e.Oid)),
		[]byte(e.Name),
		codec.EncodeUint32(uint32(e.Namespace)),
		codec.EncodeUint32(uint32(e.Tablespace)),
	)
}

func decodeOid(r tuple.Row, col uint16) (Oid, error) {
	v, _ := r.Get(col)
	oid, err := codec.DecodeUint32(v)
	return Oid(oid), errors.Trace(err)
}

// Table returns the table registered under name.
func (c *Catalog) Table(name string) (*table.DataTable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.names[name]
	if !ok || !e.live() {
		return nil, errors.Annotatef(ErrTableNotFound, "name %s", name)
	}
	return e.table, nil
}

// TableByOid returns the table registered under oid.
func (c *Catalog) TableByOid(oid Oid) (*table.DataTable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tables[oid]
	if !ok || !e.live() {
		return nil, errors.Annotatef(ErrTableNotFound, "oid %d", oid)
	}
	return e.table, nil
}

func (c *Catalog) mustTable(name string) *table.DataTable {
	t, err := c.Table(name)
	if err != nil {
		panic(err)
	}
	return t
}

// lookupName scans a (oid, name) system table for name as seen by txn.
func (c *Catalog) lookupName(txn *transaction.Txn, tableName, name string) (Oid, error) {
	var (
		found tuple.Row
		key   = []byte(name)
	)
	c.mustTable(tableName).Scan(txn, func(_ tuple.Slot, r tuple.Row) bool {
		if v, _ := r.Get(ColName); bytes.Equal(v, key) {
			found = r
			return false
		}
		return true
	})
	if found == nil {
		return 0, errors.Annotatef(table.ErrNotVisible, "%s in %s", name, tableName)
	}
	return decodeOid(found, ColOid)
}

func (c *Catalog) DatabaseOid(txn *transaction.Txn, name string) (Oid, error) {
	return c.lookupName(txn, PgDatabase, name)
}

func (c *Catalog) TablespaceOid(txn *transaction.Txn, name string) (Oid, error) {
	return c.lookupName(txn, PgTablespace, name)
}

func (c *Catalog) NamespaceOid(txn *transaction.Txn, name string) (Oid, error) {
	return c.lookupName(txn, PgNamespace, name)
}

// Class returns the pg_class entry of the table named name, as seen by txn.
func (c *Catalog) Class(txn *transaction.Txn, name string) (ClassEntry, error) {
	var (
		found tuple.Row
		key   = []byte(name)
	)
	c.mustTable(PgClass).Scan(txn, func(_ tuple.Slot, r tuple.Row) bool {
		if v, _ := r.Get(ColRelName); bytes.Equal(v, key) {
			found = r
			return false
		}
		return true
	})
	if found == nil {
		return ClassEntry{}, errors.Annotatef(table.ErrNotVisible, "%s in %s", name, PgClass)
	}
	e := ClassEntry{Name: name}
	var err error
	if e.Oid, err = decodeOid(found, ColRelOid); err != nil {
		return ClassEntry{}, err
	}
	if e.Namespace, err = decodeOid(found, ColRelNamespace); err != nil {
		return ClassEntry{}, err
	}
	if e.Tablespace, err = decodeOid(found, ColRelTablespace); err != nil {
		return ClassEntry{}, err
	}
	return e, nil
}

// CreateTable creates a user table in pg_catalog on the default tablespace and records it in pg_class as part of
// txn.
func (c *Catalog) CreateTable(txn *transaction.Txn, name string, numColumns int) (*table.DataTable, error) {
	namespace, err := c.NamespaceOid(txn, CatalogNamespace)
	if err != nil {
		return nil, err
	}
	tablespace, err := c.TablespaceOid(txn, DefaultTablespace)
	if err != nil {
		return nil, err
	}
	t, err := c.register(txn, name, numColumns)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := ClassEntry{Oid: Oid(t.ID()), Name: name, Namespace: namespace, Tablespace: tablespace}
	if _, err := c.mustTable(PgClass).Insert(txn, classRow(e)); err != nil {
		c.unregister(name)
		return nil, errors.Trace(err)
	}
	return t, nil
}
