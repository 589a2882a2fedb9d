// Package devserver はLAN内の端末から確認するための開発サーバーを提供する。
// ソースの変更を検知して再ビルドと再起動を行う。
package devserver

import (
	"fmt"
	"io"
	"net"
	"runtime"
)

// fallbackIP はLAN IPを検出できない場合に使うアドレス。
const fallbackIP = "127.0.0.1"

// LocalIP はLAN側のIPアドレスを返す。
// UDPソケットを外部アドレスに「接続」して送信元アドレスを得る。パケットは送信しない。
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return fallbackIP
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return fallbackIP
	}
	return addr.IP.String()
}

// Banner は起動時に表示する情報。
type Banner struct {
	Port        int
	LocalIP     string
	ProjectRoot string
	WatchDirs   []string
}

// Print はバナーをwに書き出す。
func (b Banner) Print(w io.Writer) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, "  userbook 開発サーバー")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "  Local:    http://localhost:%d\n", b.Port)
	fmt.Fprintf(w, "  Network:  http://%s:%d\n", b.LocalIP, b.Port)
	fmt.Fprintf(w, "  Project:  %s\n", b.ProjectRoot)
	fmt.Fprintf(w, "  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	for _, dir := range b.WatchDirs {
		fmt.Fprintf(w, "  Watching: %s\n", dir)
	}
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, "  Ctrl+C で停止します")
	fmt.Fprintln(w)
}
