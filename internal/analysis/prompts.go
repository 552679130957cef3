package analysis

// The analysis prompts. Each instructs the model to emit exactly one JSON
// object so the repair layer has a chance of salvaging sloppy output; the
// field lists here must stay in sync with the model package's JSON tags.

const balancePrompt = `Analyze the attached bank statements and calculate the average daily balance across the full period they cover.

Instructions:
1. Extract the daily balances from every statement.
2. Calculate their average.
3. Respond with exactly one JSON object and nothing else, in this shape:

{"average_daily_balance": 1234.56, "currency": "USD", "explanation": "<one or two sentences on how the figure was derived>"}`

const nsfPrompt = `Analyze the attached bank statements for NSF (non-sufficient funds) fees.

Instructions:
1. Find every NSF fee across all statements.
2. List each occurrence with its date and amount.
3. Respond with exactly one JSON object and nothing else, in this shape:

{"incident_count": 3, "total_fees": 105.00, "incidents": [{"date": "2024-01-17", "amount": 35.00, "description": "NSF RETURNED ITEM FEE"}]}`

const continuityPrompt = `Check whether the attached bank statements form a continuous, unbroken sequence of statement periods.

Instructions:
1. Determine the period each statement covers.
2. Identify any gaps between consecutive periods.
3. Respond with exactly one JSON object and nothing else, in this shape:

{"continuous": false, "gaps": [{"from": "2024-02-29", "to": "2024-04-01"}]}`

const decisionPromptFmt = `Based on the statements you have analyzed and the metrics below, make a credit recommendation.

Metrics:
%s

Instructions:
1. Weigh the average daily balance, NSF activity, and statement continuity.
2. Respond with exactly one JSON object and nothing else, in this shape:

{"approved": true, "recommendation": "<approve|decline|review>", "confidence": 0.85, "rationale": "<two or three sentences>"}`
