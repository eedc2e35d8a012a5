// Copyright 2023 AI Redefined Inc. <dev+cogment@ai-r.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

func (u *User) Clone() *User {
	clone := *u
	clone.Metadata = u.Metadata.Clone()
	return &clone
}

func (t *Thread) Clone() *Thread {
	clone := *t
	if t.Tags != nil {
		clone.Tags = append([]string{}, t.Tags...)
	}
	clone.Metadata = t.Metadata.Clone()
	return &clone
}

func (s *Step) Clone() *Step {
	clone := *s
	clone.Metadata = s.Metadata.Clone()
	if s.Feedback != nil {
		feedback := *s.Feedback
		clone.Feedback = &feedback
	}
	return &clone
}

func (e *Element) Clone() *Element {
	clone := *e
	return &clone
}
