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

package catalog

import (
	"testing"

	"github.com/pingcap-incubator/tinymvcc/kv/storage/table"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/tuple"
	"github.com/pingcap-incubator/tinymvcc/kv/storage/undo"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction"
	"github.com/pingcap-incubator/tinymvcc/kv/transaction/timestamp"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*Catalog, *transaction.Manager) {
	pool := undo.NewSegmentPool(undo.PoolOptions{SegmentSize: 16, Capacity: 64, ReuseLimit: 64})
	txns := transaction.NewManager(timestamp.NewManager(), pool, false)
	c, err := Bootstrap(txns, 8)
	require.Nil(t, err)
	return c, txns
}

func TestBootstrap(t *testing.T) {
	c, txns := newTestCatalog(t)
	txn := txns.Begin()

	oid, err := c.DatabaseOid(txn, DefaultDatabase)
	require.Nil(t, err)
	assert.Equal(t, DefaultDatabaseOid, oid)

	global, err := c.TablespaceOid(txn, GlobalTablespace)
	require.Nil(t, err)
	deflt, err := c.TablespaceOid(txn, DefaultTablespace)
	require.Nil(t, err)
	assert.NotEqual(t, global, deflt)
	namespace, err := c.NamespaceOid(txn, CatalogNamespace)
	require.Nil(t, err)

	for _, name := range []string{PgDatabase, PgTablespace, PgNamespace, PgClass} {
		e, err := c.Class(txn, name)
		require.Nil(t, err, name)
		assert.Equal(t, namespace, e.Namespace)
		tbl, err := c.Table(name)
		require.Nil(t, err)
		assert.Equal(t, Oid(tbl.ID()), e.Oid)
		byOid, err := c.TableByOid(e.Oid)
		require.Nil(t, err)
		assert.Equal(t, tbl, byOid)
	}
	e, err := c.Class(txn, PgDatabase)
	require.Nil(t, err)
	assert.Equal(t, global, e.Tablespace)
	e, err = c.Class(txn, PgClass)
	require.Nil(t, err)
	assert.Equal(t, deflt, e.Tablespace)

	_, err = c.TablespaceOid(txn, "pg_nowhere")
	assert.Equal(t, table.ErrNotVisible, errors.Cause(err))
	_, err = c.Table("orders")
	assert.Equal(t, ErrTableNotFound, errors.Cause(err))
}

func TestCreateTableIsTransactional(t *testing.T) {
	c, txns := newTestCatalog(t)

	before := txns.Begin()
	creator := txns.Begin()
	tbl, err := c.CreateTable(creator, "orders", 3)
	require.Nil(t, err)
	assert.Equal(t, 3, tbl.NumColumns())

	_, err = c.Class(before, "orders")
	assert.Equal(t, table.ErrNotVisible, errors.Cause(err))
	e, err := c.Class(creator, "orders")
	require.Nil(t, err)
	assert.Equal(t, Oid(tbl.ID()), e.Oid)

	_, err = c.CreateTable(creator, "orders", 1)
	assert.Equal(t, ErrTableExists, errors.Cause(err))

	_, err = txns.Commit(creator, nil)
	require.Nil(t, err)
	_, err = c.Class(txns.Begin(), "orders")
	assert.Nil(t, err)
}

func TestCreateTableAbort(t *testing.T) {
	c, txns := newTestCatalog(t)
	txn := txns.Begin()
	tbl, err := c.CreateTable(txn, "scratch", 1)
	require.Nil(t, err)
	_, err = tbl.Insert(txn, tuple.NewRow([]byte("x")))
	require.Nil(t, err)
	_, err = txns.Abort(txn)
	require.Nil(t, err)

	_, err = c.Class(txns.Begin(), "scratch")
	assert.Equal(t, table.ErrNotVisible, errors.Cause(err))
}

func TestCreateTableAfterAbortReusesName(t *testing.T) {
	c, txns := newTestCatalog(t)
	txn := txns.Begin()
	first, err := c.CreateTable(txn, "scratch", 1)
	require.Nil(t, err)
	_, err = txns.Abort(txn)
	require.Nil(t, err)

	_, err = c.Table("scratch")
	assert.Equal(t, ErrTableNotFound, errors.Cause(err))
	_, err = c.TableByOid(Oid(first.ID()))
	assert.Equal(t, ErrTableNotFound, errors.Cause(err))

	txn = txns.Begin()
	second, err := c.CreateTable(txn, "scratch", 2)
	require.Nil(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	_, err = txns.Commit(txn, nil)
	require.Nil(t, err)

	e, err := c.Class(txns.Begin(), "scratch")
	require.Nil(t, err)
	assert.Equal(t, Oid(second.ID()), e.Oid)
	got, err := c.Table("scratch")
	require.Nil(t, err)
	assert.Equal(t, second, got)

	_, err = c.CreateTable(txns.Begin(), "scratch", 1)
	assert.Equal(t, ErrTableExists, errors.Cause(err))
}
