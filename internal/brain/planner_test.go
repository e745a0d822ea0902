package brain_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/companion/internal/brain"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/workspace"
)

var _ = Describe("Planner", func() {
	var (
		ctx        context.Context
		dir        string
		ws         *workspace.Workspace
		researcher *mockResearcher
		publisher  *mockPublisher
		planner    *brain.Planner
		conv       *model.Conversation
		results    map[string]string
		cart, api  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		cart = writeFile(dir, "src/cart.js", "export const cart = []\n")
		api = writeFile(dir, "src/api.js", "export function get() {}\n")

		var err error
		ws, err = workspace.New(dir)
		Expect(err).NotTo(HaveOccurred())

		items, err := brain.LoadResearchItems()
		Expect(err).NotTo(HaveOccurred())

		results = map[string]string{}
		researcher = &mockResearcher{
			researchFn: func(_ context.Context, item brain.ResearchItem, _ brain.ResearchInput) (json.RawMessage, error) {
				if doc, ok := results[item.Name]; ok {
					return json.RawMessage(doc), nil
				}
				return nil, nil
			},
		}
		publisher = &mockPublisher{}
		planner = brain.NewPlanner(researcher, items, ws, publisher)
		conv = model.NewConversation(1, "add a shopping cart", time.Now())
	})

	It("skips research and planning for a simple task", func() {
		conv = model.NewConversation(1, "rename function foo to bar in utils.js", time.Now())
		results["task_classification"] = `{"project_status":"existing","task_type":"simple","concise_task_title":"Rename foo"}`

		Expect(planner.Run(ctx, conv)).To(Succeed())

		Expect(researcher.called()).To(Equal([]string{"task_classification"}))
		cl, ok := conv.Classification()
		Expect(ok).To(BeTrue())
		Expect(cl.TaskType).To(Equal(model.TaskTypeSimple))
		Expect(conv.Title()).To(Equal("Rename foo"))
		Expect(conv.HasPlan()).To(BeFalse())
		Expect(conv.TaskContext()).To(BeNil())
		Expect(publisher.kinds()).To(BeEmpty())
	})

	It("plans a new project without researching it", func() {
		results["task_classification"] = `{"project_status":"new","task_type":"multi_step"}`
		results["task_plan"] = `{"plan":[{"step_title":"Scaffold","step_detailed_description":"create files"}]}`

		Expect(planner.Run(ctx, conv)).To(Succeed())

		Expect(researcher.called()).To(Equal([]string{"task_classification", "task_plan"}))
		Expect(conv.Plan()).To(HaveLen(1))
		Expect(publisher.kinds()).To(Equal([]model.FrontendKind{model.FrontendPlan}))
	})

	Context("for a multi-step task on an existing project", func() {
		BeforeEach(func() {
			results["task_classification"] = `{"project_status":"existing","task_type":"multi_step","concise_task_title":"Shopping cart"}`
			results["project_overview"] = `{"project_name":"shop","primary_technologies":["React 18"]}`
			results["task_relevant_files"] = fmt.Sprintf(`{"directly_related_files":[%q,"missing.js"],"potentially_related_files":["src/api.js"]}`, cart)
			results["task_plan"] = `{"plan":[
				{"step_title":"Add cart","step_detailed_description":"store items","files_to_modify":["src/api.js"],"completed":true},
				{"step_title":"Finalize","step_detailed_description":"build and run"}
			]}`
		})

		It("researches, merges the context and writes the plan", func() {
			Expect(planner.Run(ctx, conv)).To(Succeed())

			Expect(researcher.called()).To(ConsistOf("task_classification", "project_overview", "task_relevant_files", "task_plan"))

			tc := conv.TaskContext()
			Expect(tc).NotTo(BeNil())
			Expect(tc.Results).To(HaveKey("project_overview"))
			Expect(tc.Results).To(HaveKey("task_relevant_files"))
			Expect(tc.Rendered).To(ContainSubstring("## Project Overview"))
			Expect(tc.Rendered).To(ContainSubstring("- **Project Name**: shop"))

			plan := conv.Plan()
			Expect(plan).To(HaveLen(2))
			for _, step := range plan {
				Expect(step.Completed).To(BeFalse())
			}

			Expect(conv.Files.Entries()).To(Equal([]model.FileEntry{
				{Path: cart, Enabled: true},
				{Path: api, Enabled: true},
			}))
			Expect(publisher.kinds()).To(Equal([]model.FrontendKind{model.FrontendTaskContext, model.FrontendPlan}))
		})

		It("hands the merged results to the plan item", func() {
			var planInput brain.ResearchInput
			inner := researcher.researchFn
			researcher.researchFn = func(ctx context.Context, item brain.ResearchItem, in brain.ResearchInput) (json.RawMessage, error) {
				if item.Name == "task_plan" {
					planInput = in
				}
				return inner(ctx, item, in)
			}

			Expect(planner.Run(ctx, conv)).To(Succeed())

			Expect(planInput.Results).To(HaveKey("project_overview"))
			Expect(planInput.Conversation).To(BeIdenticalTo(conv))
		})

		It("adds potentially related files disabled", func() {
			delete(results, "task_plan")

			Expect(planner.Run(ctx, conv)).To(Succeed())

			Expect(conv.Files.IsEnabled(cart)).To(BeTrue())
			Expect(conv.Files.IsEnabled(api)).To(BeFalse())
			Expect(conv.Files.Len()).To(Equal(2))
		})

		It("drops a failed research item and keeps the rest", func() {
			inner := researcher.researchFn
			researcher.researchFn = func(ctx context.Context, item brain.ResearchItem, in brain.ResearchInput) (json.RawMessage, error) {
				if item.Name == "project_overview" {
					return nil, errors.New("rate limited")
				}
				return inner(ctx, item, in)
			}

			Expect(planner.Run(ctx, conv)).To(Succeed())

			tc := conv.TaskContext()
			Expect(tc.Results).NotTo(HaveKey("project_overview"))
			Expect(tc.Results).To(HaveKey("task_relevant_files"))
			Expect(conv.HasPlan()).To(BeTrue())
		})

		It("aborts on cancellation and keeps the completed research", func() {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			inner := researcher.researchFn
			researcher.researchFn = func(c context.Context, item brain.ResearchItem, in brain.ResearchInput) (json.RawMessage, error) {
				if item.Name == "task_relevant_files" {
					cancel()
					<-c.Done()
					return nil, c.Err()
				}
				return inner(c, item, in)
			}

			err := planner.Run(ctx, conv)

			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(researcher.called()).NotTo(ContainElement("task_plan"))
			Expect(conv.HasPlan()).To(BeFalse())
		})

		It("fails when classification fails", func() {
			researcher.researchFn = func(context.Context, brain.ResearchItem, brain.ResearchInput) (json.RawMessage, error) {
				return nil, errors.New("unauthorized")
			}

			err := planner.Run(ctx, conv)

			Expect(err).To(MatchError(ContainSubstring("classify task")))
			_, ok := conv.Classification()
			Expect(ok).To(BeFalse())
		})
	})

	DescribeTable("defaults an unusable classification to an existing multi-step task",
		func(doc string) {
			if doc != "" {
				results["task_classification"] = doc
			}

			Expect(planner.Run(ctx, conv)).To(Succeed())

			cl, ok := conv.Classification()
			Expect(ok).To(BeTrue())
			Expect(cl.ProjectStatus).To(Equal(model.ProjectStatusExisting))
			Expect(cl.TaskType).To(Equal(model.TaskTypeMultiStep))
			Expect(researcher.called()).To(ContainElement("project_overview"))
		},
		Entry("no result", ""),
		Entry("invalid JSON", `{"project_status":`),
		Entry("unknown values", `{"project_status":"ancient","task_type":"epic"}`),
	)
})
