package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// 接続プールの上限。連絡先の更新はユーザー行をFOR UPDATEで保持するため、
// 待ち合わせ中のトランザクションが接続を使い切らないよう上限を設ける。
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = time.Hour
)

// Open はuserbookのPostgreSQL接続プールを開く。
// databaseURLの例: "postgres://userbook:userbook@db:5432/userbook?sslmode=disable"
// 接続は遅延して張られるため、疎通確認にはPingContextを使う。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)

	return db, nil
}
