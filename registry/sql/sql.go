// Package sql is a registry.Store backed by a SQL database. It is
// written against SQLite (modernc.org/sqlite, no cgo) but sticks to
// database/sql and portable statements.
package sql

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/registry"
)

type DB struct {
	driver *sql.DB
}

var _ registry.Store = &DB{}

func Open(driver, datasource string) (*DB, error) {
	db, err := sql.Open(driver, datasource)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway; one connection avoids
	// SQLITE_BUSY under concurrent tasks.
	db.SetMaxOpenConns(1)
	store := &DB{driver: db}
	return store, store.ensureSchema()
}

func (db *DB) Close() error {
	return db.driver.Close()
}

func (db *DB) ensureSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS deployments (
			name     TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			manifest TEXT NOT NULL,
			releases TEXT NOT NULL,
			stemcell TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS instances (
			deployment          TEXT NOT NULL,
			job                 TEXT NOT NULL,
			idx                 INTEGER NOT NULL,
			state               TEXT NOT NULL,
			resurrection_paused INTEGER NOT NULL,
			vm_cid              TEXT NOT NULL,
			spec_digest         TEXT NOT NULL,
			PRIMARY KEY (deployment, job, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS vms (
			cid        TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			deployment TEXT NOT NULL,
			pool       TEXT NOT NULL,
			network    TEXT NOT NULL,
			ip         TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS disks (
			cid        TEXT PRIMARY KEY,
			deployment TEXT NOT NULL,
			instance   TEXT NOT NULL,
			size_mb    INTEGER NOT NULL,
			active     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			cid        TEXT PRIMARY KEY,
			disk_cid   TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS problems (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment  TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			type        TEXT NOT NULL,
			state       TEXT NOT NULL,
			data        TEXT NOT NULL,
			resolution  TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS releases (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS release_versions (
			release      TEXT NOT NULL,
			version      TEXT NOT NULL,
			fingerprint  TEXT NOT NULL,
			artifact_ref TEXT NOT NULL,
			PRIMARY KEY (release, version)
		)`,
		`CREATE TABLE IF NOT EXISTS stemcells (
			name    TEXT NOT NULL,
			version TEXT NOT NULL,
			cid     TEXT NOT NULL,
			PRIMARY KEY (name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id          INTEGER PRIMARY KEY,
			type        TEXT NOT NULL,
			state       TEXT NOT NULL,
			description TEXT NOT NULL,
			user        TEXT NOT NULL,
			deployment  TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			result      TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			name       TEXT PRIMARY KEY,
			first_seen INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.driver.Exec(stmt); err != nil {
			return errors.Wrap(err, "ensuring schema")
		}
	}
	return nil
}

// --- deployments

func (db *DB) SaveDeployment(d *registry.Deployment) error {
	releases, err := json.Marshal(d.Releases)
	if err != nil {
		return err
	}
	stemcell, err := json.Marshal(d.Stemcell)
	if err != nil {
		return err
	}
	_, err = db.driver.Exec(
		`INSERT INTO deployments (name, provider, manifest, releases, stemcell)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   provider = excluded.provider,
		   manifest = excluded.manifest,
		   releases = excluded.releases,
		   stemcell = excluded.stemcell`,
		d.Name, d.Provider, d.Manifest, string(releases), string(stemcell))
	return err
}

func scanDeployment(row interface{ Scan(...interface{}) error }) (*registry.Deployment, error) {
	var (
		d                  registry.Deployment
		releases, stemcell string
	)
	if err := row.Scan(&d.Name, &d.Provider, &d.Manifest, &releases, &stemcell); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(releases), &d.Releases); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stemcell), &d.Stemcell); err != nil {
		return nil, err
	}
	return &d, nil
}

func (db *DB) Deployment(name string) (*registry.Deployment, error) {
	row := db.driver.QueryRow(
		`SELECT name, provider, manifest, releases, stemcell FROM deployments WHERE name = ?`, name)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	return d, err
}

func (db *DB) Deployments() ([]*registry.Deployment, error) {
	rows, err := db.driver.Query(
		`SELECT name, provider, manifest, releases, stemcell FROM deployments ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) DeleteDeployment(name string) error {
	return db.deleteOne(`DELETE FROM deployments WHERE name = ?`, name)
}

// --- instances

func (db *DB) SaveInstance(inst *registry.Instance) error {
	tx, err := db.driver.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if inst.VMCID != "" {
		var job string
		var idx int
		err := tx.QueryRow(
			`SELECT job, idx FROM instances
			 WHERE vm_cid = ? AND NOT (deployment = ? AND job = ? AND idx = ?)`,
			inst.VMCID, inst.Deployment, inst.Job, inst.Index).Scan(&job, &idx)
		switch err {
		case sql.ErrNoRows:
		case nil:
			return registry.ErrVMBound
		default:
			return err
		}
	}

	_, err = tx.Exec(
		`INSERT INTO instances (deployment, job, idx, state, resurrection_paused, vm_cid, spec_digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(deployment, job, idx) DO UPDATE SET
		   state = excluded.state,
		   resurrection_paused = excluded.resurrection_paused,
		   vm_cid = excluded.vm_cid,
		   spec_digest = excluded.spec_digest`,
		inst.Deployment, inst.Job, inst.Index, string(inst.State),
		boolInt(inst.ResurrectionPaused), inst.VMCID, inst.SpecDigest)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func scanInstance(row interface{ Scan(...interface{}) error }) (*registry.Instance, error) {
	var (
		inst   registry.Instance
		state  string
		paused int
	)
	if err := row.Scan(&inst.Deployment, &inst.Job, &inst.Index, &state, &paused, &inst.VMCID, &inst.SpecDigest); err != nil {
		return nil, err
	}
	inst.State = director.InstanceState(state)
	inst.ResurrectionPaused = paused != 0
	return &inst, nil
}

func (db *DB) Instance(deployment, job string, index int) (*registry.Instance, error) {
	row := db.driver.QueryRow(
		`SELECT deployment, job, idx, state, resurrection_paused, vm_cid, spec_digest
		 FROM instances WHERE deployment = ? AND job = ? AND idx = ?`,
		deployment, job, index)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	return inst, err
}

func (db *DB) InstancesFor(deployment string) ([]*registry.Instance, error) {
	rows, err := db.driver.Query(
		`SELECT deployment, job, idx, state, resurrection_paused, vm_cid, spec_digest
		 FROM instances WHERE deployment = ? ORDER BY job ASC, idx ASC`, deployment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (db *DB) DeleteInstance(deployment, job string, index int) error {
	return db.deleteOne(
		`DELETE FROM instances WHERE deployment = ? AND job = ? AND idx = ?`,
		deployment, job, index)
}

// --- vms

func (db *DB) SaveVM(vm *registry.VM) error {
	_, err := db.driver.Exec(
		`INSERT INTO vms (cid, agent_id, deployment, pool, network, ip)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cid) DO UPDATE SET
		   agent_id = excluded.agent_id,
		   deployment = excluded.deployment,
		   pool = excluded.pool,
		   network = excluded.network,
		   ip = excluded.ip`,
		vm.CID, vm.AgentID, vm.Deployment, vm.Pool, vm.Network, vm.IP)
	return err
}

func (db *DB) VM(cid string) (*registry.VM, error) {
	var vm registry.VM
	err := db.driver.QueryRow(
		`SELECT cid, agent_id, deployment, pool, network, ip FROM vms WHERE cid = ?`, cid).
		Scan(&vm.CID, &vm.AgentID, &vm.Deployment, &vm.Pool, &vm.Network, &vm.IP)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	return &vm, err
}

func (db *DB) VMsFor(deployment string) ([]*registry.VM, error) {
	rows, err := db.driver.Query(
		`SELECT cid, agent_id, deployment, pool, network, ip
		 FROM vms WHERE deployment = ? ORDER BY cid ASC`, deployment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.VM
	for rows.Next() {
		var vm registry.VM
		if err := rows.Scan(&vm.CID, &vm.AgentID, &vm.Deployment, &vm.Pool, &vm.Network, &vm.IP); err != nil {
			return nil, err
		}
		out = append(out, &vm)
	}
	return out, rows.Err()
}

func (db *DB) DeleteVM(cid string) error {
	return db.deleteOne(`DELETE FROM vms WHERE cid = ?`, cid)
}

// --- disks

func (db *DB) SaveDisk(d *registry.PersistentDisk) error {
	tx, err := db.driver.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if d.Active {
		var other string
		err := tx.QueryRow(
			`SELECT cid FROM disks
			 WHERE deployment = ? AND instance = ? AND active = 1 AND cid != ?`,
			d.Deployment, d.Instance.String(), d.CID).Scan(&other)
		switch err {
		case sql.ErrNoRows:
		case nil:
			return registry.ErrSecondActive
		default:
			return err
		}
	}

	_, err = tx.Exec(
		`INSERT INTO disks (cid, deployment, instance, size_mb, active)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(cid) DO UPDATE SET
		   deployment = excluded.deployment,
		   instance = excluded.instance,
		   size_mb = excluded.size_mb,
		   active = excluded.active`,
		d.CID, d.Deployment, d.Instance.String(), d.SizeMB, boolInt(d.Active))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func scanDisk(row interface{ Scan(...interface{}) error }) (*registry.PersistentDisk, error) {
	var (
		d        registry.PersistentDisk
		instance string
		active   int
	)
	if err := row.Scan(&d.CID, &d.Deployment, &instance, &d.SizeMB, &active); err != nil {
		return nil, err
	}
	id, err := director.ParseInstanceID(instance)
	if err != nil {
		return nil, errors.Wrapf(err, "disk %s has malformed instance reference", d.CID)
	}
	d.Instance = id
	d.Active = active != 0
	return &d, nil
}

func (db *DB) Disk(cid string) (*registry.PersistentDisk, error) {
	row := db.driver.QueryRow(
		`SELECT cid, deployment, instance, size_mb, active FROM disks WHERE cid = ?`, cid)
	d, err := scanDisk(row)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	return d, err
}

func (db *DB) DisksFor(deployment string) ([]*registry.PersistentDisk, error) {
	rows, err := db.driver.Query(
		`SELECT cid, deployment, instance, size_mb, active
		 FROM disks WHERE deployment = ? ORDER BY cid ASC`, deployment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.PersistentDisk
	for rows.Next() {
		d, err := scanDisk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) DeleteDisk(cid string) error {
	return db.deleteOne(`DELETE FROM disks WHERE cid = ?`, cid)
}

// --- snapshots

func (db *DB) SaveSnapshot(s *registry.Snapshot) error {
	_, err := db.driver.Exec(
		`INSERT INTO snapshots (cid, disk_cid, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(cid) DO UPDATE SET disk_cid = excluded.disk_cid, created_at = excluded.created_at`,
		s.CID, s.DiskCID, s.CreatedAt.UnixNano())
	return err
}

func (db *DB) Snapshot(cid string) (*registry.Snapshot, error) {
	var (
		s  registry.Snapshot
		ns int64
	)
	err := db.driver.QueryRow(
		`SELECT cid, disk_cid, created_at FROM snapshots WHERE cid = ?`, cid).
		Scan(&s.CID, &s.DiskCID, &ns)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(0, ns).UTC()
	return &s, nil
}

func (db *DB) SnapshotsForDisk(diskCID string) ([]*registry.Snapshot, error) {
	rows, err := db.driver.Query(
		`SELECT cid, disk_cid, created_at FROM snapshots WHERE disk_cid = ? ORDER BY cid ASC`, diskCID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.Snapshot
	for rows.Next() {
		var (
			s  registry.Snapshot
			ns int64
		)
		if err := rows.Scan(&s.CID, &s.DiskCID, &ns); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(0, ns).UTC()
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (db *DB) DeleteSnapshot(cid string) error {
	return db.deleteOne(`DELETE FROM snapshots WHERE cid = ?`, cid)
}

// --- problems

func (db *DB) CreateProblem(p *registry.Problem) (int64, error) {
	var exists string
	err := db.driver.QueryRow(`SELECT name FROM deployments WHERE name = ?`, p.Deployment).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, registry.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(p.Data)
	if err != nil {
		return 0, err
	}
	res, err := db.driver.Exec(
		`INSERT INTO problems (deployment, resource_id, type, state, data, resolution, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Deployment, p.ResourceID, string(p.Type), string(p.State),
		string(data), p.Resolution, p.CreatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanProblem(row interface{ Scan(...interface{}) error }) (*registry.Problem, error) {
	var (
		p           registry.Problem
		tp, st, dat string
		ns          int64
	)
	if err := row.Scan(&p.ID, &p.Deployment, &p.ResourceID, &tp, &st, &dat, &p.Resolution, &ns); err != nil {
		return nil, err
	}
	p.Type = registry.ProblemType(tp)
	p.State = registry.ProblemState(st)
	p.CreatedAt = time.Unix(0, ns).UTC()
	if err := json.Unmarshal([]byte(dat), &p.Data); err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *DB) Problem(id int64) (*registry.Problem, error) {
	row := db.driver.QueryRow(
		`SELECT id, deployment, resource_id, type, state, data, resolution, created_at
		 FROM problems WHERE id = ?`, id)
	p, err := scanProblem(row)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	return p, err
}

func (db *DB) ProblemsFor(deployment string, state registry.ProblemState) ([]*registry.Problem, error) {
	rows, err := db.driver.Query(
		`SELECT id, deployment, resource_id, type, state, data, resolution, created_at
		 FROM problems WHERE deployment = ? AND state = ? ORDER BY id ASC`,
		deployment, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) UpdateProblem(p *registry.Problem) error {
	tx, err := db.driver.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT deployment FROM problems WHERE id = ?`, p.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return registry.ErrNotFound
	}
	if err != nil {
		return err
	}
	if current != p.Deployment {
		return registry.ErrCrossDeployment
	}

	data, err := json.Marshal(p.Data)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`UPDATE problems SET resource_id = ?, type = ?, state = ?, data = ?, resolution = ?
		 WHERE id = ?`,
		p.ResourceID, string(p.Type), string(p.State), string(data), p.Resolution, p.ID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// --- releases and stemcells

func (db *DB) SaveRelease(r *registry.Release) error {
	_, err := db.driver.Exec(
		`INSERT INTO releases (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, r.Name)
	return err
}

func (db *DB) Releases() ([]*registry.Release, error) {
	rows, err := db.driver.Query(`SELECT name FROM releases ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.Release
	for rows.Next() {
		var r registry.Release
		if err := rows.Scan(&r.Name); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (db *DB) SaveReleaseVersion(rv *registry.ReleaseVersion) error {
	_, err := db.driver.Exec(
		`INSERT INTO release_versions (release, version, fingerprint, artifact_ref)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(release, version) DO UPDATE SET
		   fingerprint = excluded.fingerprint,
		   artifact_ref = excluded.artifact_ref`,
		rv.Release, rv.Version, rv.Fingerprint, rv.ArtifactRef)
	return err
}

func (db *DB) ReleaseVersions(release string) ([]*registry.ReleaseVersion, error) {
	rows, err := db.driver.Query(
		`SELECT release, version, fingerprint, artifact_ref
		 FROM release_versions WHERE release = ? ORDER BY version ASC`, release)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.ReleaseVersion
	for rows.Next() {
		var rv registry.ReleaseVersion
		if err := rows.Scan(&rv.Release, &rv.Version, &rv.Fingerprint, &rv.ArtifactRef); err != nil {
			return nil, err
		}
		out = append(out, &rv)
	}
	return out, rows.Err()
}

func (db *DB) SaveStemcell(sc *registry.Stemcell) error {
	_, err := db.driver.Exec(
		`INSERT INTO stemcells (name, version, cid) VALUES (?, ?, ?)
		 ON CONFLICT(name, version) DO UPDATE SET cid = excluded.cid`,
		sc.Name, sc.Version, sc.CID)
	return err
}

func (db *DB) Stemcells() ([]*registry.Stemcell, error) {
	rows, err := db.driver.Query(`SELECT name, version, cid FROM stemcells ORDER BY name ASC, version ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.Stemcell
	for rows.Next() {
		var sc registry.Stemcell
		if err := rows.Scan(&sc.Name, &sc.Version, &sc.CID); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// --- tasks

func (db *DB) SaveTask(t *registry.TaskRecord) error {
	_, err := db.driver.Exec(
		`INSERT INTO tasks (id, type, state, description, user, deployment, timestamp, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   result = excluded.result`,
		t.ID, t.Type, t.State, t.Description, t.User, t.Deployment, t.Timestamp.UnixNano(), t.Result)
	return err
}

func scanTask(row interface{ Scan(...interface{}) error }) (*registry.TaskRecord, error) {
	var (
		t  registry.TaskRecord
		ns int64
	)
	if err := row.Scan(&t.ID, &t.Type, &t.State, &t.Description, &t.User, &t.Deployment, &ns, &t.Result); err != nil {
		return nil, err
	}
	t.Timestamp = time.Unix(0, ns).UTC()
	return &t, nil
}

func (db *DB) Task(id int64) (*registry.TaskRecord, error) {
	row := db.driver.QueryRow(
		`SELECT id, type, state, description, user, deployment, timestamp, result
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, registry.ErrNotFound
	}
	return t, err
}

func (db *DB) Tasks() ([]*registry.TaskRecord, error) {
	rows, err := db.driver.Query(
		`SELECT id, type, state, description, user, deployment, timestamp, result
		 FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- users

func (db *DB) SaveUser(u *registry.User) error {
	_, err := db.driver.Exec(
		`INSERT INTO users (name, first_seen) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		u.Name, u.FirstSeen.UnixNano())
	return err
}

func (db *DB) Users() ([]*registry.User, error) {
	rows, err := db.driver.Query(`SELECT name, first_seen FROM users ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*registry.User
	for rows.Next() {
		var (
			u  registry.User
			ns int64
		)
		if err := rows.Scan(&u.Name, &ns); err != nil {
			return nil, err
		}
		u.FirstSeen = time.Unix(0, ns).UTC()
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (db *DB) deleteOne(stmt string, args ...interface{}) error {
	res, err := db.driver.Exec(stmt, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
