package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type PostgresRepository struct {
	db *sqlx.DB
}

func (r *PostgresRepository) CreateOrUpdateUser(ctx context.Context, user User) error {
	query := `
      insert into users (user_id, firstname, lastname, email)
      values ($1, $2, $3, $4)
      on conflict(user_id) do update
         set firstname = excluded.firstname,
             lastname = excluded.lastname,
             email = excluded.email;`

	if _, err := r.db.ExecContext(ctx, query, user.UserID, user.FirstName, user.LastName, user.Email); err != nil {
		return fmt.Errorf("upsert user %s: %w", user.UserID, err)
	}
	return nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	query := `
	  select user_id, firstname, lastname, email
	  from users where user_id=$1;
	  `

	user := &User{}
	err := r.db.GetContext(ctx, user, query, userID)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return user, nil
}

func (r *PostgresRepository) InsertPlay(ctx context.Context, play Play) (int64, error) {
	query := `
	  insert into plays (track_id, track_uri, track_name, submitted_by, started_at)
	  values ($1, $2, $3, $4, $5)
      returning play_id;
    `

	var playID int64
	err := r.db.QueryRowContext(ctx, query, play.TrackID, play.TrackURI, play.TrackName,
		play.SubmittedBy, play.StartedAt,
	).Scan(&playID)
	if err != nil {
		return 0, fmt.Errorf("insert play %s: %w", play.TrackID, err)
	}
	return playID, nil
}

func (r *PostgresRepository) RecentPlays(ctx context.Context, limit int64) ([]Play, error) {
	query := `
	  select play_id, track_id, track_uri, track_name, submitted_by, started_at
	  from plays
	  order by started_at desc, play_id desc
	  limit $1;`

	plays := make([]Play, 0)
	if err := r.db.SelectContext(ctx, &plays, query, limit); err != nil {
		return nil, fmt.Errorf("recent plays: %w", err)
	}
	return plays, nil
}

func (r *PostgresRepository) close() {
	r.db.Close()
}

func NewPostgresRepository(dbUrl string) (*PostgresRepository, error) {
	db, err := sqlx.Connect("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Println("connected to db. creating new tables")

	// make sure the required tables exist
	usersTable := `
	  create table if not exists users (
		user_id text primary key,
		firstname text,
		lastname text,
		email text
	  );`

	playsTable := `
		create table if not exists plays (
		play_id serial primary key,
		track_id text not null,
		track_uri text not null,
		track_name text,
		submitted_by text,
		started_at bigint not null
	  );`

	for _, t := range []string{usersTable, playsTable} {
		if _, err = db.Exec(t); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to exec stmt: %w", err)
		}
	}
	return &PostgresRepository{db: db}, nil
}
