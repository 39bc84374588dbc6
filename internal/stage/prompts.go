// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"bytes"
	"text/template"
)

const titleSystemPrompt = "Binary classifier for article titles about undesirable consequences of technology."

const titleSchemaSource = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "label": {"type": "string", "enum": ["LABEL_0_irrelevant", "LABEL_1_relevant"]},
    "score": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "required": ["label", "score"]
}`

var titlePromptTmpl = template.Must(template.New("title").Parse(`Title: {{.Title}}
Return LABEL_1_relevant only if the title clearly signals the discussion of unintended or undesirable consequences of technology on society.
Otherwise LABEL_0_irrelevant. Example technologies include {{.Domains}}`))

var contentFilterPromptTmpl = template.Must(template.New("content_filter").Parse(
	`Does the article discuss unintended or undesirable consequences of {{.Topic}} on society? Answer only Yes or No.

"{{.Text}}"`))

var summaryPromptTmpl = template.Must(template.New("summary").Parse(
	`Your goal is to inspire users to be more aware of undesirable consequences of {{.Topic}}, using insights from the below input text.
Extract and summarize any undesirable consequence of the technology from the article. Please answer {{.Sentinel}} if no undesirable consequence of {{.Topic}} technology on society is found.

"{{.Text}}"

Answer about the undesirable consequence in 1-3 sentences:`))

var aspectPromptTmpl = template.Must(template.New("aspect").Parse(
	`List of possible aspects: {{.Aspects}}.

Which one aspect of life does the following consequence affect? (Please only select one)

Summary of the consequence: "{{.Text}}"

One Aspect (Please only select one from above):`))

type promptData struct {
	Title    string
	Domains  string
	Topic    string
	Text     string
	Sentinel string
	Aspects  string
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
