package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"room-relay/internal/chat"
	"room-relay/internal/service"
)

// cli_chat es un cliente de terminal: entra a una sala, imprime lo que llega
// y envia cada linea de stdin como mensaje.
func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("RELAY_SERVER", "http://localhost:8080"), "base URL del servidor")
	token := flag.String("token", os.Getenv("RELAY_TOKEN"), "access token (opcional si se usa -email)")
	email := flag.String("email", os.Getenv("RELAY_EMAIL"), "email para login")
	password := flag.String("password", os.Getenv("RELAY_PASSWORD"), "password para login")
	room := flag.String("room", envOr("RELAY_ROOM", "lobby"), "sala a la que entrar")
	flag.Parse()

	if *token == "" {
		if *email == "" || *password == "" {
			log.Fatal("se necesita -token o -email y -password")
		}
		t, err := login(*server, *email, *password)
		if err != nil {
			log.Fatalf("login: %v", err)
		}
		*token = t
	}

	wsURL, err := websocketURL(*server)
	if err != nil {
		log.Fatalf("server url: %v", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		if resp != nil {
			log.Fatalf("conectar: %v (status %d)", err, resp.StatusCode)
		}
		log.Fatalf("conectar: %v", err)
	}
	defer conn.Close()

	if err := send(conn, chat.EventJoinRoom, chat.JoinRoomPayload{Room: *room}); err != nil {
		log.Fatalf("joinRoom: %v", err)
	}
	fmt.Printf("===== sala %s =====\n", *room)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame chat.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					fmt.Printf("conexion cerrada: %v\n", err)
				}
				return
			}
			printFrame(frame)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			closeGracefully(conn, done)
			return
		case line, ok := <-lines:
			if !ok {
				closeGracefully(conn, done)
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "/quit" || text == "/exit" {
				closeGracefully(conn, done)
				return
			}
			if err := send(conn, chat.EventSendMessage, chat.SendMessagePayload{Room: *room, Text: text}); err != nil {
				log.Printf("enviar: %v", err)
				return
			}
		}
	}
}

func send(conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(chat.Frame{Event: event, Data: data})
}

func printFrame(frame chat.Frame) {
	switch frame.Event {
	case chat.EventLoadMessages:
		var items []chat.HistoryItem
		if err := json.Unmarshal(frame.Data, &items); err != nil {
			fmt.Printf("historial invalido: %v\n", err)
			return
		}
		for _, it := range items {
			fmt.Printf("[%s] %s: %s\n", it.Timestamp.Local().Format("15:04:05"), it.User, it.Text)
		}
		fmt.Println("-----")
	case chat.EventMessage:
		var msg chat.MessagePayload
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			fmt.Printf("mensaje invalido: %v\n", err)
			return
		}
		if msg.System {
			fmt.Printf("* %s\n", msg.Text)
			return
		}
		ts := time.Now()
		if msg.Timestamp != nil {
			ts = *msg.Timestamp
		}
		fmt.Printf("[%s] %s: %s\n", ts.Local().Format("15:04:05"), msg.User, msg.Text)
	case chat.EventError:
		var e chat.ErrorPayload
		_ = json.Unmarshal(frame.Data, &e)
		fmt.Printf("! error (%s): %s\n", e.Code, e.Msg)
	default:
		fmt.Printf("? %s %s\n", frame.Event, string(frame.Data))
	}
}

func closeGracefully(conn *websocket.Conn, done <-chan struct{}) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

// login pide un par de tokens a /api/auth/login.
func login(server, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(server, "/")+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Tokens service.TokenPair `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Tokens.AccessToken, nil
}

func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
