// GameMaster CLI - Command line client for the GameMaster server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Thainyx11/GameMaster/clients/go/gamemaster"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("GAMEMASTER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := gamemaster.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: gamemaster register <name>")
			os.Exit(1)
		}
		resp, err := client.Register(os.Args[2], "")
		exitOnError(err)
		fmt.Printf("Registered as: %s (%s)\n", resp.Name, resp.ID)

	case "new":
		model := ""
		if len(os.Args) > 2 {
			model = os.Args[2]
		}
		conv, err := client.CreateConversation(model)
		exitOnError(err)
		fmt.Printf("Created: %s (%s)\n", conv.ID, conv.Model)

	case "list":
		convs, err := client.ListConversations()
		exitOnError(err)
		for _, conv := range convs {
			ts := time.Unix(conv.UpdatedAt, 0).Format("2006-01-02 15:04")
			fmt.Printf("  %s  [%s] %s\n", conv.ID, ts, conv.Title)
		}

	case "show":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: gamemaster show <conversation_id>")
			os.Exit(1)
		}
		detail, err := client.GetConversation(os.Args[2])
		exitOnError(err)
		fmt.Printf("== %s ==\n", detail.Conversation.Title)
		for _, msg := range detail.Messages {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: gamemaster send <conversation_id> <message>")
			os.Exit(1)
		}
		err := client.SendMessage(context.Background(), os.Args[2], os.Args[3], false, gamemaster.StreamHandler{
			OnToken: func(text string) { fmt.Print(text) },
			OnTitle: func(_, title string) { fmt.Fprintf(os.Stderr, "\n(titled: %s)", title) },
			OnDone:  func(string) { fmt.Println() },
			OnError: func(message string) { fmt.Fprintln(os.Stderr, "\nError:", message) },
		})
		exitOnError(err)

	case "models":
		models, defaultModel, err := client.ListModels()
		exitOnError(err)
		for _, m := range models {
			marker := " "
			if m.ID == defaultModel {
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, m.ID, m.Name)
		}

	case "model":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: gamemaster model <conversation_id> <model_id>")
			os.Exit(1)
		}
		exitOnError(client.SetModel(os.Args[2], os.Args[3]))
		fmt.Println("Model updated")

	case "delete":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: gamemaster delete <conversation_id>")
			os.Exit(1)
		}
		exitOnError(client.DeleteConversation(os.Args[2]))
		fmt.Println("Deleted")

	case "instructions":
		if len(os.Args) > 2 {
			exitOnError(client.SetInstructions(os.Args[2]))
			fmt.Println("Instructions updated")
		} else {
			instructions, err := client.GetInstructions()
			exitOnError(err)
			fmt.Println(instructions)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`GameMaster CLI - streaming conversation client

Usage: gamemaster <command> [options]

Commands:
  register <name>          Register a new account
  new [model]              Start a conversation
  list                     List conversations
  show <id>                Show a conversation's messages
  send <id> <message>      Send a message, streaming the reply
  models                   List available models
  model <id> <model_id>    Change a conversation's model
  delete <id>              Delete a conversation
  instructions [text]      Show or set custom instructions
  health                   Check server health

Environment:
  GAMEMASTER_URL      Server URL (default: http://localhost:8080)
  GAMEMASTER_CONFIG   Config directory (default: ~/.gamemaster)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
