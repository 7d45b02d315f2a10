package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sqlx.DB
}

func (r *SQLiteRepository) CreateOrUpdateUser(ctx context.Context, user User) error {
	query := `
      insert into users (user_id, firstname, lastname, email)
      values (?, ?, ?, ?)
      on conflict(user_id) do update
         set firstname = excluded.firstname,
             lastname = excluded.lastname,
             email = excluded.email;`

	if _, err := r.db.ExecContext(ctx, query, user.UserID, user.FirstName, user.LastName, user.Email); err != nil {
		return fmt.Errorf("upsert user %s: %w", user.UserID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user := &User{}
	err := r.db.GetContext(ctx, user,
		`select user_id, firstname, lastname, email from users where user_id=?`, userID)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return user, nil
}

func (r *SQLiteRepository) InsertPlay(ctx context.Context, play Play) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`insert into plays (track_id, track_uri, track_name, submitted_by, started_at) values (?, ?, ?, ?, ?)`,
		play.TrackID, play.TrackURI, play.TrackName, play.SubmittedBy, play.StartedAt)
	if err != nil {
		return 0, fmt.Errorf("insert play %s: %w", play.TrackID, err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) RecentPlays(ctx context.Context, limit int64) ([]Play, error) {
	plays := make([]Play, 0)
	err := r.db.SelectContext(ctx, &plays, `
	  select play_id, track_id, track_uri, track_name, submitted_by, started_at
	  from plays
	  order by started_at desc, play_id desc
	  limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent plays: %w", err)
	}
	return plays, nil
}

func (r *SQLiteRepository) close() {
	r.db.Close()
}

func NewSQLiteRepository(filePath string) (*SQLiteRepository, error) {
	log.Println("opening sqlite database", filePath)
	db, err := sqlx.Open("sqlite3", filePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection, so :memory: databases are shared and writes serialize
	db.SetMaxOpenConns(1)

	// make sure the required tables exist
	tables := []string{
		`create table if not exists users (
			user_id text primary key,
			firstname text,
			lastname text,
			email text
		)`,
		`create table if not exists plays (
			play_id integer primary key autoincrement,
			track_id text not null,
			track_uri text not null,
			track_name text,
			submitted_by text,
			started_at integer not null
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to exec stmt: %w", err)
		}
	}
	return &SQLiteRepository{db: db}, nil
}
