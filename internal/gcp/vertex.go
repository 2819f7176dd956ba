package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Analyst Model Prompts ---
const AnalystSystemPrompt = "You are a policy analyst. You read public comments submitted on a regulatory document and produce a faithful, neutral summary of what commenters said."
const AnalystUserPrompt = `You will be provided with a CSV file of public comments. Each row is one comment; the "text" column holds the comment body.

Follow these instructions:

1.  **Themes**: Identify the main themes raised by commenters. For each theme give a short title, a two to three sentence description and an approximate count of comments that raise it.
2.  **Positions**: Summarize the range of positions taken (support, opposition, requested changes) without taking a side.
3.  **Notable Comments**: Quote at most five short passages that represent distinct viewpoints, with their commentId.
4.  **Coverage**: State how many comments you read and note any rows you could not interpret.

Return the result as Markdown. Do not include any preamble such as "Here is the summary".`

// VertexClient holds the pre-configured generative models for the app.
type VertexClient struct {
	AnalystModel *genai.GenerativeModel
	baseClient   *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	analystModel := baseClient.GenerativeModel(modelName)
	analystModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AnalystSystemPrompt)},
	}
	analystModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.2),
	}

	return &VertexClient{
		AnalystModel: analystModel,
		baseClient:   baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// Generate asks the analyst model to read the file at fileURI and returns
// the text of the first candidate, with any Markdown code fence removed.
func (c *VertexClient) Generate(ctx context.Context, fileURI, mimeType string) (string, error) {
	resp, err := c.AnalystModel.GenerateContent(ctx,
		genai.FileData{MIMEType: mimeType, FileURI: fileURI},
		genai.Text(AnalystUserPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return extractText(resp), nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	content := strings.TrimSpace(b.String())
	content = strings.TrimPrefix(content, "```markdown")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
