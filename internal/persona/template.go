package persona

// templateJSON is the blank Profile document written on first open.
// Fields are empty strings/arrays/objects, never omitted, so downstream
// JSON-Patch paths from the Summariser always resolve.
const templateJSON = `{
  "bot": {
    "name": "",
    "gender": "",
    "birthday": "",
    "role": "",
    "appearance": "",
    "likes": [],
    "dislikes": [],
    "language_style": {
      "description": "",
      "examples": []
    },
    "personality": {
      "mbti": "",
      "description": "",
      "worldview_and_values": ""
    },
    "emotions_and_needs": {
      "long_term": "",
      "short_term": ""
    },
    "relationship_with_user": ""
  },
  "user": {
    "name": "",
    "gender": "",
    "birthday": "",
    "personal_facts": [],
    "abilities": [],
    "likes": [],
    "dislikes": [],
    "personality": {
      "mbti": "",
      "description": "",
      "worldview_and_values": ""
    },
    "emotions_and_needs": {
      "long_term": "",
      "short_term": ""
    }
  },
  "memorable_events": [],
  "commands_and_agreements": []
}`
