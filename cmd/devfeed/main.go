// Command devfeed appends synthetic chat-log lines to a room log file so the
// companion pipeline can be exercised without a live stream.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var usernames = []string{"观众A", "路人甲", "小火龙", "大魔王", "金主"}

var lines = []string{
	"[dm] %s：主播好！",
	"[dm] %s：哈哈哈哈",
	"[free_gift] %s 赠送了 辣条 x 10，总价 1000 银瓜子",
	"[paid_gift] %s 赠送了 小花花 x 3，总价 15.5 元",
	"[guard] %s 购买了 1个月 舰长，总价 138 元",
	"[superchat] %s 发送了 30 元的醒目留言：加油加油",
}

func main() {
	var (
		dir      string
		room     string
		interval time.Duration
		count    int
	)

	flag.StringVar(&dir, "dir", "log/messages", "Chat log directory")
	flag.StringVar(&room, "room", "1769174835", "Room id to write logs for")
	flag.DurationVar(&interval, "interval", 2*time.Second, "Delay between lines")
	flag.IntVar(&count, "count", 0, "Number of lines to write (0 = forever)")
	flag.Parse()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("mkdir %s: %v", dir, err)
	}

	now := time.Now()
	name := fmt.Sprintf("room_%s-%s_000000.txt", room, now.Format("20060102"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	log.Printf("devfeed writing to %s every %s", path, interval)

	written := 0
	for count == 0 || written < count {
		user := usernames[rand.Intn(len(usernames))]
		body := fmt.Sprintf(lines[rand.Intn(len(lines))], user)
		line := fmt.Sprintf("%s %s\n", time.Now().Format("2006-01-02 15:04:05"), body)
		if _, err := f.WriteString(line); err != nil {
			log.Fatalf("write: %v", err)
		}
		if err := f.Sync(); err != nil {
			log.Fatalf("sync: %v", err)
		}
		written++
		log.Printf("devfeed: %s", body)
		time.Sleep(interval)
	}
}
