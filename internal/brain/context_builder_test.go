package brain_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/core/config"
	"basegraph.app/companion/internal/brain"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/workspace"
)

var _ = Describe("ContextBuilder", func() {
	var (
		ctx     context.Context
		dir     string
		ws      *workspace.Workspace
		mockLLM *mockLLMClient
		counter *mockCounter
		cfg     config.ContextConfig
		env     config.WorkspaceConfig
		builder *brain.ContextBuilder
		conv    *model.Conversation
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		writeFile(dir, "main.go", "package main\n")

		var err error
		ws, err = workspace.New(dir)
		Expect(err).NotTo(HaveOccurred())

		mockLLM = &mockLLMClient{}
		counter = &mockCounter{}
		cfg = config.ContextConfig{
			RecentMessages:         6,
			MaxSummaryTokens:       1_000_000,
			MaxRelevantFilesTokens: 1_000_000,
			MaxRelevantFilesCount:  7,
			MaxCombinedFiles:       20,
			MaxFileSize:            100_000,
			ReductionInterval:      10,
			FinishTaskThreshold:    7,
			CompressionTimeout:     time.Minute,
		}
		env = config.WorkspaceConfig{Root: dir, Shell: "bash", OSName: "linux", StructureDepth: 2}

		conv = model.NewConversation(1, "fix the bug", time.Now())
		conv.SetClassification(model.Classification{
			ProjectStatus: model.ProjectStatusExisting,
			TaskType:      model.TaskTypeSimple,
		})
	})

	JustBeforeEach(func() {
		builder = brain.NewContextBuilder(ws, counter, mockLLM, cfg, env)
	})

	AfterEach(func() {
		builder.Close()
	})

	userContent := func(msgs []llm.Message) string {
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Role).To(Equal(llm.RoleSystem))
		Expect(msgs[1].Role).To(Equal(llm.RoleUser))
		return msgs[1].Text()
	}

	Describe("BuildMessages", func() {
		It("renders the sections in order", func() {
			msgs := builder.BuildMessages(ctx, conv, "please hurry")
			content := userContent(msgs)

			task := strings.Index(content, "<task>\nfix the bug\n</task>")
			state := strings.Index(content, "<current_project_state>")
			user := strings.Index(content, "<user>please hurry</user>")
			Expect(task).To(BeNumerically(">=", 0))
			Expect(state).To(BeNumerically(">", task))
			Expect(user).To(BeNumerically(">", state))
			Expect(content).To(ContainSubstring("- main.go"))
			Expect(content).To(ContainSubstring(fmt.Sprintf("The full path to this directory is '%s'", dir)))
			Expect(mockLLM.calls()).To(Equal(0))
		})

		It("fills the shell placeholders and adds the finish instructions for simple tasks", func() {
			system := builder.BuildMessages(ctx, conv, "")[0].Content

			Expect(system).To(ContainSubstring("direct bash terminal access on linux"))
			Expect(system).To(ContainSubstring("When the task is complete"))
			Expect(system).NotTo(ContainSubstring("{shellType}"))
		})

		It("uses the planning prompt until a complex task has a plan", func() {
			conv.SetClassification(model.Classification{
				ProjectStatus: model.ProjectStatusExisting,
				TaskType:      model.TaskTypeMultiStep,
			})

			system := builder.BuildMessages(ctx, conv, "")[0].Content
			Expect(system).To(ContainSubstring("Create an implementation plan"))
			Expect(system).NotTo(ContainSubstring("When the task is complete"))

			conv.SetPlan([]model.TaskPlanStep{{Title: "Setup"}})
			system = builder.BuildMessages(ctx, conv, "")[0].Content
			Expect(system).To(ContainSubstring("direct bash terminal access"))
		})

		It("judges complexity once for an unclassified task", func() {
			conv = model.NewConversation(2, "build a web shop", time.Now())
			mockLLM.chatFn = func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
				Expect(req.SchemaName).To(Equal("needs_plan"))
				Expect(req.UserPrompt).To(ContainSubstring("build a web shop"))
				return respond(result, `{"result":true}`)
			}

			system := builder.BuildMessages(ctx, conv, "")[0].Content
			builder.BuildMessages(ctx, conv, "")

			Expect(system).To(ContainSubstring("Create an implementation plan"))
			Expect(mockLLM.callsFor("needs_plan")).To(Equal(1))
			isComplex, known := conv.Complex()
			Expect(known).To(BeTrue())
			Expect(isComplex).To(BeTrue())
		})

		It("treats a failed complexity judgement as simple", func() {
			conv = model.NewConversation(2, "build a web shop", time.Now())
			mockLLM.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
				return nil, errors.New("unavailable")
			}

			system := builder.BuildMessages(ctx, conv, "")[0].Content

			Expect(system).To(ContainSubstring("When the task is complete"))
		})

		Context("with custom instructions", func() {
			BeforeEach(func() {
				env.InstructionsFile = ".companion/instructions.md"
				writeFile(dir, ".companion/instructions.md", "Always use tabs.\n")
			})

			It("appends them to the system prompt", func() {
				system := builder.BuildMessages(ctx, conv, "")[0].Content
				Expect(strings.HasSuffix(system, "Always use tabs.")).To(BeTrue())
			})
		})

		It("renders the task context and the plan", func() {
			conv.SetTaskContext(&model.TaskContext{Rendered: "## Project Overview\n- **Project Name**: shop"})
			conv.SetPlan([]model.TaskPlanStep{
				{Title: "Setup", Description: "create the module", Completed: true},
				{Title: "Build"},
			})

			content := userContent(builder.BuildMessages(ctx, conv, ""))

			Expect(content).To(ContainSubstring("<task_context>\n## Project Overview"))
			Expect(content).To(ContainSubstring("<task_plan>\n1. Setup (completed)\n   create the module\n2. Build\n</task_plan>"))
		})

		It("puts images ahead of the text", func() {
			conv.AddBackend(model.Message{Role: llm.RoleUser, Parts: []llm.ContentPart{
				{Type: llm.PartImage, ImageURL: "data:image/png;base64,AAAA"},
				{Type: llm.PartText, Text: "like this"},
			}})

			msgs := builder.BuildMessages(ctx, conv, "like this")

			Expect(msgs[1].Parts).To(HaveLen(2))
			Expect(msgs[1].Parts[0].Type).To(Equal(llm.PartImage))
			Expect(msgs[1].Parts[1].Type).To(Equal(llm.PartText))
			Expect(msgs[1].Parts[1].Text).To(ContainSubstring("<user>like this</user>"))
		})
	})

	Describe("conversation history", func() {
		addMessages := func(n int) {
			for i := 1; i < n; i++ {
				conv.AddBackend(model.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("message number %d", i)})
			}
			conv.AddBackend(model.Message{Role: llm.RoleUser, Content: fmt.Sprintf("message number %d", n)})
		}

		BeforeEach(func() {
			cfg.RecentMessages = 2
		})

		It("renders every message once and leaves the latest user message to the user section", func() {
			addMessages(6)

			content := userContent(builder.BuildMessages(ctx, conv, "message number 6"))

			for i := 1; i <= 5; i++ {
				Expect(strings.Count(content, fmt.Sprintf(`"content": "message number %d"`, i))).To(Equal(1), "message %d", i)
			}
			Expect(content).NotTo(ContainSubstring(`"content": "message number 6"`))
			Expect(content).To(ContainSubstring("<user>message number 6</user>"))
		})

		It("renders tool results as user entries", func() {
			conv.AddBackend(model.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{toolCall("c1", "read_file", `{}`)}})
			conv.AddBackend(model.Message{Role: llm.RoleTool, Content: "file read", ToolCallID: "c1"})

			content := userContent(builder.BuildMessages(ctx, conv, ""))

			Expect(content).To(ContainSubstring(`"type": "tool_use"`))
			Expect(content).To(ContainSubstring(`"name": "read_file"`))
			Expect(content).NotTo(ContainSubstring(`"file"`))
			Expect(content).To(ContainSubstring(`"type": "tool_result"`))
			Expect(content).NotTo(ContainSubstring(`"role": "tool"`))
		})

		It("keeps the target file of tool calls but no other arguments", func() {
			conv.AddBackend(model.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				toolCall("c1", "replace_code", `{"targetFile":"src/cart.js","replaceWith":"secret body"}`),
			}})
			conv.AddBackend(model.Message{Role: llm.RoleTool, Content: "done", ToolCallID: "c1"})

			content := userContent(builder.BuildMessages(ctx, conv, ""))

			Expect(content).To(ContainSubstring(`"name": "replace_code"`))
			Expect(content).To(ContainSubstring(`"file": "src/cart.js"`))
			Expect(content).NotTo(ContainSubstring("secret body"))
		})

		Context("when the older messages exceed the summary budget", func() {
			BeforeEach(func() {
				cfg.MaxSummaryTokens = 10
			})

			It("compresses them in the background and applies the summary on the next build", func() {
				mockLLM.chatFn = func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
					Expect(req.SchemaName).To(Equal("compressed_history"))
					Expect(req.UserPrompt).To(ContainSubstring("message number 1"))
					return respond(result, `{"summary":"[SUMMARY OF OLD MESSAGES]"}`)
				}
				addMessages(6)
				oldest := conv.Backend()[3].ID

				first := userContent(builder.BuildMessages(ctx, conv, "message number 6"))
				builder.Wait()
				Expect(first).To(ContainSubstring("message number 1"))
				Expect(conv.Summary().Text).To(BeEmpty())

				second := userContent(builder.BuildMessages(ctx, conv, "message number 6"))
				builder.Wait()

				Expect(conv.Summary().HighWater).To(Equal(oldest))
				Expect(second).To(ContainSubstring("SUMMARY OF OLD MESSAGES,"))
				for i := 1; i <= 4; i++ {
					Expect(second).NotTo(ContainSubstring(fmt.Sprintf("message number %d\"", i)))
				}
				Expect(second).To(ContainSubstring(`"content": "message number 5"`))
				Expect(mockLLM.callsFor("compressed_history")).To(Equal(1))
			})

			It("runs one compression at a time", func() {
				release := make(chan struct{})
				mockLLM.chatFn = func(ctx context.Context, _ llm.Request, result any) (*llm.Response, error) {
					select {
					case <-release:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					return respond(result, `{"summary":"short"}`)
				}
				addMessages(6)

				builder.BuildMessages(ctx, conv, "")
				Eventually(conv.CompressionRunning).Should(BeTrue())
				builder.BuildMessages(ctx, conv, "")

				close(release)
				builder.Wait()
				Expect(mockLLM.callsFor("compressed_history")).To(Equal(1))
				Expect(conv.CompressionRunning()).To(BeFalse())
			})

			It("keeps the uncompressed history when compression fails", func() {
				mockLLM.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
					return nil, errors.New("unavailable")
				}
				addMessages(6)

				builder.BuildMessages(ctx, conv, "")
				builder.Wait()
				content := userContent(builder.BuildMessages(ctx, conv, ""))
				builder.Wait()

				Expect(conv.Summary().Text).To(BeEmpty())
				Expect(content).To(ContainSubstring(`"content": "message number 1"`))
			})
		})
	})

	Describe("relevant files", func() {
		var a, b, c string

		BeforeEach(func() {
			a = writeFile(dir, "a.go", "package a\n")
			b = writeFile(dir, "b.go", "package b\n")
			c = writeFile(dir, "c.go", "package c\n")
		})

		It("enables files named by tool calls", func() {
			conv.AddBackend(model.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				toolCall("c1", "read_file", `{"targetFile":"a.go"}`),
				toolCall("c2", "read_file", `{"targetFile":"missing.go"}`),
			}})

			content := userContent(builder.BuildMessages(ctx, conv, ""))

			Expect(content).To(ContainSubstring(fmt.Sprintf("<file_content file=\"%s\">\n   1|package a", a)))
			Expect(conv.Files.Enabled()).To(Equal([]string{a}))
		})

		It("picks up files modified on disk since the last scan", func() {
			future := time.Now().Add(time.Minute)
			Expect(os.Chtimes(b, future, future)).To(Succeed())

			builder.BuildMessages(ctx, conv, "")

			Expect(conv.Files.Enabled()).To(Equal([]string{b}))
		})

		Context("with a small file size limit", func() {
			BeforeEach(func() {
				cfg.MaxFileSize = 100
			})

			It("replaces oversized files with a placeholder", func() {
				writeFile(dir, "big.txt", strings.Repeat("x", 200))
				conv.Files.Set(filepath.Join(dir, "big.txt"), true)

				content := userContent(builder.BuildMessages(ctx, conv, ""))

				Expect(content).To(ContainSubstring(workspace.TooLargePlaceholder))
				Expect(content).NotTo(ContainSubstring("xxxx"))
			})
		})

		Context("with more files than allowed", func() {
			BeforeEach(func() {
				for _, p := range []string{a, b, c} {
					conv.Files.Set(p, true)
				}
			})

			Context("and a combined limit of two", func() {
				BeforeEach(func() {
					cfg.MaxCombinedFiles = 2
				})

				It("disables files past the limit", func() {
					content := userContent(builder.BuildMessages(ctx, conv, ""))

					Expect(content).To(ContainSubstring("package a"))
					Expect(content).To(ContainSubstring("package b"))
					Expect(content).NotTo(ContainSubstring("package c"))
					Expect(conv.Files.IsEnabled(c)).To(BeFalse())
				})
			})

			Context("and over the token ceiling", func() {
				BeforeEach(func() {
					cfg.MaxRelevantFilesCount = 2
					cfg.MaxRelevantFilesTokens = 150
					counter.countFn = func(v any) int {
						s, _ := v.(string)
						return 100 * strings.Count(s, "<file_content ")
					}
				})

				It("keeps the top ranked files and is stable afterwards", func() {
					mockLLM.chatFn = func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
						Expect(req.SchemaName).To(Equal("relevant_files"))
						return respond(result, fmt.Sprintf(`{"files":[%q,%q]}`, b, a))
					}

					first := userContent(builder.BuildMessages(ctx, conv, ""))
					second := userContent(builder.BuildMessages(ctx, conv, ""))

					for _, content := range []string{first, second} {
						Expect(strings.Count(content, "<file_content ")).To(Equal(1))
						Expect(content).To(ContainSubstring("package b"))
					}
					Expect(conv.Files.Enabled()).To(Equal([]string{b}))
					Expect(mockLLM.callsFor("relevant_files")).To(Equal(1))
				})

				It("drops the lowest ranked files until the contents fit the ceiling", func() {
					mockLLM.chatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
						return respond(result, fmt.Sprintf(`{"files":[%q,%q,%q]}`, a, b, c))
					}

					builder.BuildMessages(ctx, conv, "")

					Expect(conv.Files.Enabled()).To(Equal([]string{a}))
					Expect(counter.Count(builder.FileContents(conv.Files.Enabled()))).To(BeNumerically("<=", cfg.MaxRelevantFilesTokens))
				})

				Context("when no single file fits", func() {
					BeforeEach(func() {
						cfg.MaxRelevantFilesTokens = 50
					})

					It("leaves the file section out", func() {
						mockLLM.chatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
							return respond(result, fmt.Sprintf(`{"files":[%q]}`, a))
						}

						content := userContent(builder.BuildMessages(ctx, conv, ""))

						Expect(content).NotTo(ContainSubstring("<relevant_files_contents>"))
						Expect(conv.Files.Enabled()).To(BeEmpty())
					})
				})

				It("returns the original content when the ranking is not an array", func() {
					mockLLM.chatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
						return respond(result, `{"files":"a.go"}`)
					}

					content := userContent(builder.BuildMessages(ctx, conv, ""))

					Expect(strings.Count(content, "<file_content ")).To(Equal(3))
					Expect(conv.Files.Enabled()).To(HaveLen(3))
				})

				It("does not rank again within the reduction interval", func() {
					mockLLM.chatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
						return respond(result, `{"files":["unknown.go"]}`)
					}

					builder.BuildMessages(ctx, conv, "")
					content := userContent(builder.BuildMessages(ctx, conv, ""))

					Expect(strings.Count(content, "<file_content ")).To(Equal(3))
					Expect(mockLLM.callsFor("relevant_files")).To(Equal(1))
				})
			})
		})
	})
})
