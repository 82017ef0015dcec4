package genai

import (
	"context"
	"fmt"
	"strings"
)

const explainSystemPrompt = `You are an expert senior engineer analyzing legacy ERPNext code.
Answer the user's question using ONLY the provided code context.

STRICT OUTPUT FORMATTING RULES:
1. Output ONLY plain text.
2. Do NOT use Markdown formatting.
3. Use standard numbering (1., 2.) for lists.`

const migrateSystemPrompt = `You are a Senior Go/Golang Architect.
Your task is to migrate legacy Python/ERPNext code to modern Go code.

RULES:
1. Use the provided Python context to understand the business logic.
2. Output ONLY valid Go code.
3. Use Domain-Driven Design (DDD) patterns (structs, methods).
4. Declare "package " followed by the package name given in the request.
5. Include comments explaining complex translation logic.
6. Calls flagged as side-effecting must keep their relative order.
7. Do NOT wrap the output in markdown blocks. Just raw code.`

const testSystemPrompt = `You are a Senior Go/Golang Architect writing a test suite.
Given a Go implementation, produce a single _test.go file exercising its exported behavior.

RULES:
1. Output ONLY valid Go code for one test file.
2. Use the same package name as the implementation.
3. Use only the standard testing package, no external dependencies.
4. Do NOT wrap the output in markdown blocks. Just raw code.`

const healSystemPrompt = `You are a Senior Go/Golang engineer repairing code that fails to build or test.
You receive the current file content and the compiler/test output.

RULES:
1. Output the COMPLETE corrected file, not a diff.
2. Keep the package name and overall structure.
3. Do NOT wrap the output in markdown blocks. Just raw code.`

// Answer responds to a natural-language question grounded in retrieved code.
func (c *Client) Answer(ctx context.Context, question, contextBlock string) (string, error) {
	user := fmt.Sprintf("Context Code:\n%s\n\nRequest: %s", contextBlock, question)
	return c.Complete(ctx, explainSystemPrompt, user)
}

// GenerateImplementation produces the initial Go translation of a chunk.
// Call edges and side-effect markers ride along so the model sees the
// ordering dependencies the legacy code relies on.
func (c *Client) GenerateImplementation(ctx context.Context, name, source, contextBlock string, callEdges, sideEffects []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Migrate this legacy function to Go. Package name: %s\n\n", packageName(name))
	fmt.Fprintf(&b, "Legacy unit: %s\n", name)
	if len(callEdges) > 0 {
		fmt.Fprintf(&b, "Calls made by this unit: %s\n", strings.Join(callEdges, ", "))
	}
	if len(sideEffects) > 0 {
		fmt.Fprintf(&b, "Side-effecting calls (invocation order matters): %s\n", strings.Join(sideEffects, ", "))
	}
	fmt.Fprintf(&b, "\nSource:\n%s\n", source)
	if contextBlock != "" {
		fmt.Fprintf(&b, "\nRelated code from the same codebase:\n%s\n", contextBlock)
	}

	out, err := c.Complete(ctx, migrateSystemPrompt, b.String())
	if err != nil {
		return "", err
	}
	return stripFences(out), nil
}

// GenerateTests produces the companion test file for an implementation.
func (c *Client) GenerateTests(ctx context.Context, name, implementation string) (string, error) {
	user := fmt.Sprintf("Write tests for this Go file (package %s):\n\n%s", packageName(name), implementation)
	out, err := c.Complete(ctx, testSystemPrompt, user)
	if err != nil {
		return "", err
	}
	return stripFences(out), nil
}

// FixCode re-generates a file with the verifier's diagnostics appended,
// implementing one self-heal round.
func (c *Client) FixCode(ctx context.Context, code, diagnostics string) (string, error) {
	user := fmt.Sprintf("Fix the following errors:\n%s\n\nCurrent file:\n%s", diagnostics, code)
	out, err := c.Complete(ctx, healSystemPrompt, user)
	if err != nil {
		return "", err
	}
	return stripFences(out), nil
}

// packageName derives a Go package name from a qualified chunk name:
// "SalesInvoice.on_submit" becomes "on_submit".
func packageName(name string) string {
	parts := strings.Split(name, ".")
	last := parts[len(parts)-1]
	last = strings.NewReplacer("[", "_", "]", "").Replace(last)
	if last == "" {
		return "migrated"
	}
	return strings.ToLower(last)
}
